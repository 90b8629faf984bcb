// Package directory remembers the display names of users seen by the server
// so that task views and lock events can carry an expanded user record
// instead of a bare id.
package directory

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

const defaultTTL = 24 * time.Hour

// Directory is a display-name cache backed by ristretto. Entries may be
// evicted at any time; a missing name resolves to a bare reference.
type Directory struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// Option configures a Directory.
type Option func(*options)

type options struct {
	cfg ristretto.Config
	ttl time.Duration
}

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		o.cfg = *cfg
	}
}

// WithTTL sets how long a remembered name is kept. Zero keeps it until
// evicted.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = d
	}
}

// New returns an empty Directory.
func New(opts ...Option) (*Directory, error) {
	o := options{
		cfg: ristretto.Config{
			NumCounters: 1e5,     // keys tracked for admission (100k).
			MaxCost:     8 << 20, // 8MB of names.
			BufferItems: 64,
		},
		ttl: defaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := ristretto.NewCache(&o.cfg)
	if err != nil {
		return nil, err
	}
	return &Directory{c: c, ttl: o.ttl}, nil
}

// Remember records the display name of id. The name is visible to Lookup
// once Remember returns, unless the cache refused it.
func (d *Directory) Remember(id auth.Identity) {
	if id.ID == "" || id.DisplayName == "" {
		return
	}
	if name, ok := d.Lookup(id.ID); ok && name == id.DisplayName {
		return
	}
	cost := int64(len(id.ID) + len(id.DisplayName))
	if d.c.SetWithTTL(id.ID, id.DisplayName, cost, d.ttl) {
		d.c.Wait()
	}
}

// Lookup returns the remembered display name of id.
func (d *Directory) Lookup(id string) (string, bool) {
	v, ok := d.c.Get(id)
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

// Resolve implements task.Resolver.
func (d *Directory) Resolve(id string) task.UserRef {
	if name, ok := d.Lookup(id); ok {
		return task.Expanded(task.User{ID: id, DisplayName: name})
	}
	return task.Reference(id)
}

// Wait blocks until pending writes are visible to Lookup.
func (d *Directory) Wait() { d.c.Wait() }

// Close stops the cache's background goroutines.
func (d *Directory) Close() { d.c.Close() }
