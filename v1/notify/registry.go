package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	"github.com/mirkobrombin/go-tasklock/v1/metrics"
)

// DefaultProbeInterval is how often live connections are probed.
const DefaultProbeInterval = 30 * time.Second

// ErrSlow is returned by Conn.Send when the connection cannot take another
// message right now. The message is dropped for that connection only.
var ErrSlow = errors.New("notify: send queue full")

// Conn is the registry's view of a push transport. Send must not block.
// It returns ErrSlow when the message cannot be queued and an error
// matching errors.ErrTransport once the transport is dead.
type Conn interface {
	Send(data []byte) error
	Ping() error
	Close() error
}

// State is the liveness state of a registered connection.
type State int

const (
	// StateAlive means the last probe was acknowledged, or none was sent yet.
	StateAlive State = iota
	// StateProbing means a probe is outstanding.
	StateProbing
)

func (s State) String() string {
	if s == StateProbing {
		return "probing"
	}
	return "alive"
}

// Eviction reasons.
const (
	ReasonClosed    = "closed"
	ReasonProbe     = "probe_timeout"
	ReasonTransport = "transport"
	ReasonProtocol  = "protocol"
)

type entry struct {
	id       string
	identity auth.Identity
	conn     Conn
	state    State
}

// Registry tracks authenticated push connections.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{entries: make(map[string]*entry), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds c for id and returns its connection id. The id is the
// identity id followed by a random suffix, so a user may hold several
// connections at once.
func (r *Registry) Register(id auth.Identity, c Conn) (string, error) {
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	connID := id.ID + "-" + suffix
	r.mu.Lock()
	r.entries[connID] = &entry{id: connID, identity: id, conn: c, state: StateAlive}
	n := len(r.entries)
	r.mu.Unlock()
	metrics.ConnectionGauge.Set(float64(n))
	r.logger.Info("notify: connection registered", "conn", connID, "user", id.ID)
	return connID, nil
}

// Unregister removes connID and closes its transport. It reports whether
// the entry was still registered.
func (r *Registry) Unregister(connID string) bool {
	return r.evict(connID, ReasonClosed, nil)
}

// Evict removes connID for reason, closing its transport.
func (r *Registry) Evict(connID, reason string, cause error) bool {
	return r.evict(connID, reason, cause)
}

func (r *Registry) evict(connID, reason string, cause error) bool {
	r.mu.Lock()
	e, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	n := len(r.entries)
	r.mu.Unlock()
	if !ok {
		return false
	}
	metrics.ConnectionGauge.Set(float64(n))
	metrics.Evictions.WithLabelValues(reason).Inc()
	_ = e.conn.Close()
	if reason == ReasonClosed {
		r.logger.Info("notify: connection closed", "conn", connID, "user", e.identity.ID)
	} else {
		r.logger.Warn("notify: evicting connection", "conn", connID, "user", e.identity.ID, "reason", reason, "error", cause)
	}
	return true
}

// MarkAlive records a probe acknowledgement for connID.
func (r *Registry) MarkAlive(connID string) {
	r.mu.Lock()
	if e, ok := r.entries[connID]; ok {
		e.state = StateAlive
	}
	r.mu.Unlock()
}

// State returns the liveness state of connID.
func (r *Registry) State(connID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Probe runs one liveness cycle. Connections whose previous probe is still
// unacknowledged are evicted; every other connection is marked as probing
// and sent a new probe.
func (r *Registry) Probe() {
	var stale, live []*entry
	r.mu.Lock()
	for _, e := range r.entries {
		if e.state == StateProbing {
			stale = append(stale, e)
			continue
		}
		e.state = StateProbing
		live = append(live, e)
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.evict(e.id, ReasonProbe, nil)
	}
	for _, e := range live {
		if err := e.conn.Ping(); err != nil {
			r.evict(e.id, ReasonTransport, err)
		}
	}
}

// Run probes every interval until ctx is done, then closes every remaining
// connection.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			r.Probe()
		}
	}
}

// CloseAll evicts every connection.
func (r *Registry) CloseAll() {
	for _, e := range r.snapshot() {
		r.evict(e.id, ReasonClosed, nil)
	}
}

// snapshot copies the current entries so callers can write without
// holding the registry lock.
func (r *Registry) snapshot() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}
