package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/metrics"
	"github.com/mirkobrombin/go-tasklock/v1/store"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

// Manager takes and gives back task locks on a store.
type Manager struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns a Manager on s.
func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{store: s, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time { return m.now() }

// Acquire locks id for requester. It succeeds when the task is unlocked,
// its lock has expired, or requester already holds it; in the last case the
// acquisition time is refreshed. It fails with errors.ErrNotFound or
// errors.ErrLocked.
func (m *Manager) Acquire(ctx context.Context, id, requester string) (task.Task, error) {
	now := m.now()
	t, err := m.store.Update(ctx, id, Available(requester, now), func(t *task.Task) {
		t.Lock = &task.Lock{Owner: requester, AcquiredAt: now}
	})
	switch {
	case err == nil:
		metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
		return t, nil
	case errors.Is(err, store.ErrConditionFailed):
		metrics.LockAcquisitions.WithLabelValues("locked").Inc()
		return task.Task{}, tlerrors.ErrLocked
	case errors.Is(err, tlerrors.ErrNotFound):
		metrics.LockAcquisitions.WithLabelValues("not_found").Inc()
		return task.Task{}, err
	}
	metrics.LockAcquisitions.WithLabelValues("error").Inc()
	return task.Task{}, err
}

// Release clears requester's lock on id. Releasing a lock held by someone
// else, or one that is already gone, is not an error: the current record
// is returned unchanged. It fails only with errors.ErrNotFound or a store
// error.
func (m *Manager) Release(ctx context.Context, id, requester string) (task.Task, error) {
	now := m.now()
	t, err := m.store.Update(ctx, id, Available(requester, now), func(t *task.Task) {
		t.Lock = nil
	})
	switch {
	case err == nil:
		metrics.LockReleases.WithLabelValues("released").Inc()
		return t, nil
	case errors.Is(err, store.ErrConditionFailed):
		cur, gerr := m.store.Get(ctx, id)
		if gerr != nil {
			metrics.LockReleases.WithLabelValues("error").Inc()
			return task.Task{}, gerr
		}
		metrics.LockReleases.WithLabelValues("kept").Inc()
		return cur, nil
	case errors.Is(err, tlerrors.ErrNotFound):
		metrics.LockReleases.WithLabelValues("not_found").Inc()
		return task.Task{}, err
	}
	metrics.LockReleases.WithLabelValues("error").Inc()
	return task.Task{}, err
}

// Sweep clears every lock that has expired and returns the records it
// changed. A lock refreshed or released between the scan and the write is
// left alone.
func (m *Manager) Sweep(ctx context.Context) ([]task.Task, error) {
	now := m.now()
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	stillExpired := func(t task.Task) bool {
		return t.Lock != nil && Expired(t.Lock, now)
	}
	var cleared []task.Task
	for _, t := range all {
		if !stillExpired(t) {
			continue
		}
		n, err := m.store.Update(ctx, t.ID, stillExpired, func(t *task.Task) {
			t.Lock = nil
		})
		if err != nil {
			if errors.Is(err, store.ErrConditionFailed) || errors.Is(err, tlerrors.ErrNotFound) {
				continue
			}
			return cleared, err
		}
		cleared = append(cleared, n)
	}
	metrics.SweptLocks.Add(float64(len(cleared)))
	return cleared, nil
}

// Run sweeps every interval until ctx is done. onSweep, if set, receives
// the records cleared by each pass that changed something.
func (m *Manager) Run(ctx context.Context, interval time.Duration, onSweep func([]task.Task)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleared, err := m.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				m.logger.Warn("lock: sweep failed", "error", err)
			}
			if len(cleared) == 0 {
				continue
			}
			m.logger.Debug("lock: cleared expired locks", "count", len(cleared))
			if onSweep != nil {
				onSweep(cleared)
			}
		}
	}
}
