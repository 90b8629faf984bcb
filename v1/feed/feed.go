// Package feed republishes task events to external brokers so that systems
// outside the push channel can follow changes. Delivery is best effort: a
// broker outage never blocks or fails the write that produced an event.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-tasklock/v1/metrics"
)

const defaultPublishTimeout = 5 * time.Second

// ErrQueueFull is returned by Async.Publish when the queue cannot take
// another event.
var ErrQueueFull = errors.New("feed: queue full")

// Sink publishes one encoded event.
type Sink interface {
	Publish(ctx context.Context, eventType string, data []byte) error
}

type item struct {
	eventType string
	data      []byte
}

// Async queues events for a Sink and publishes them from a single worker,
// so callers never wait on the broker.
type Async struct {
	name    string
	inner   Sink
	queue   chan item
	timeout time.Duration
	logger  *slog.Logger
}

// NewAsync wraps inner with a queue of size buffer. name labels metrics
// and logs.
func NewAsync(name string, inner Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{
		name:    name,
		inner:   inner,
		queue:   make(chan item, buffer),
		timeout: defaultPublishTimeout,
		logger:  logger,
	}
}

// Publish queues the event without blocking.
func (a *Async) Publish(_ context.Context, eventType string, data []byte) error {
	select {
	case a.queue <- item{eventType: eventType, data: data}:
		return nil
	default:
		metrics.FeedPublishes.WithLabelValues(a.name, "dropped").Inc()
		return ErrQueueFull
	}
}

// Run publishes queued events until ctx is done.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-a.queue:
			a.publish(ctx, it)
		}
	}
}

func (a *Async) publish(ctx context.Context, it item) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	err := a.inner.Publish(cctx, it.eventType, it.data)
	switch {
	case err == nil:
		metrics.FeedPublishes.WithLabelValues(a.name, "ok").Inc()
	case errors.Is(err, ErrCircuitOpen):
		metrics.FeedPublishes.WithLabelValues(a.name, "open").Inc()
	default:
		metrics.FeedPublishes.WithLabelValues(a.name, "error").Inc()
		a.logger.Warn("feed: publish failed", "sink", a.name, "type", it.eventType, "error", err)
	}
}
