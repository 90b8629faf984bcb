package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/metrics"
)

// Sink receives every broadcast event, already encoded, for consumers
// outside the push channel. Publish is called on the broadcasting
// goroutine and must return quickly.
type Sink interface {
	Publish(ctx context.Context, eventType string, data []byte) error
}

// Notifier delivers events to the connections of a Registry.
type Notifier struct {
	reg    *Registry
	sinks  []Sink
	logger *slog.Logger
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithSink adds s to the sinks receiving every broadcast.
func WithSink(s Sink) NotifierOption {
	return func(n *Notifier) {
		n.sinks = append(n.sinks, s)
	}
}

// WithNotifierLogger sets the notifier logger.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = l
	}
}

// NewNotifier returns a Notifier over reg.
func NewNotifier(reg *Registry, opts ...NotifierOption) *Notifier {
	n := &Notifier{reg: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Registry returns the registry the notifier delivers to.
func (n *Notifier) Registry() *Registry { return n.reg }

// Broadcast encodes ev once and queues it on every registered connection
// whose user is not excludeUserID. An empty excludeUserID reaches everyone.
// Connections that cannot take the message are skipped; dead ones are
// evicted. Broadcast never fails the caller.
func (n *Notifier) Broadcast(ev Event, excludeUserID string) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("notify: encode event failed", "type", ev.Type, "error", err)
		return
	}
	for _, e := range n.reg.snapshot() {
		if excludeUserID != "" && e.identity.ID == excludeUserID {
			continue
		}
		n.deliver(e, data)
	}
	for _, s := range n.sinks {
		if err := s.Publish(context.Background(), string(ev.Type), data); err != nil {
			n.logger.Warn("notify: sink publish failed", "type", ev.Type, "error", err)
		}
	}
}

// SendTo delivers ev to a single connection.
func (n *Notifier) SendTo(connID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	n.reg.mu.Lock()
	e, ok := n.reg.entries[connID]
	var cp entry
	if ok {
		cp = *e
	}
	n.reg.mu.Unlock()
	if !ok {
		return tlerrors.ErrTransport
	}
	return n.deliver(cp, data)
}

func (n *Notifier) deliver(e entry, data []byte) error {
	err := e.conn.Send(data)
	switch {
	case err == nil:
		metrics.Deliveries.Inc()
	case errors.Is(err, ErrSlow):
		metrics.Drops.Inc()
		n.logger.Debug("notify: dropping event for slow connection", "conn", e.id)
	default:
		metrics.Drops.Inc()
		n.reg.evict(e.id, ReasonTransport, err)
	}
	return err
}
