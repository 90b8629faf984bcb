// Package service implements the task operations. Every write is a single
// conditional write on the store predicated on the requester being allowed
// to touch the task's lock, and every committed change is handed to the
// publisher as an event excluding the user who caused it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/lock"
	"github.com/mirkobrombin/go-tasklock/v1/metrics"
	"github.com/mirkobrombin/go-tasklock/v1/notify"
	"github.com/mirkobrombin/go-tasklock/v1/store"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-tasklock/v1/service")

// Publisher receives the events produced by committed changes.
type Publisher interface {
	Broadcast(ev notify.Event, excludeUserID string)
}

// Service is the task service.
type Service struct {
	store    store.Store
	locks    *lock.Manager
	pub      Publisher
	resolver task.Resolver
	newID    func() string
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResolver sets the resolver used to expand user references in the
// views carried by events.
func WithResolver(r task.Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithIDGenerator replaces the random task id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New returns a Service writing to st through locks and publishing to pub.
func New(st store.Store, locks *lock.Manager, pub Publisher, opts ...Option) *Service {
	s := &Service{
		store:  st,
		locks:  locks,
		pub:    pub,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View resolves t for the wire.
func (s *Service) View(t task.Task) task.View {
	return task.NewView(t, s.resolver)
}

func (s *Service) start(ctx context.Context, op, id string, actor auth.Identity) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "Service."+op)
	span.SetAttributes(attribute.String("tasklock.user", actor.ID))
	if id != "" {
		span.SetAttributes(attribute.String("tasklock.task", id))
	}
	return ctx, span
}

// finish records the outcome of op on span and in metrics.
func finish(span trace.Span, op string, err error) {
	defer span.End()
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, tlerrors.ErrNotFound):
		result = "not_found"
	case errors.Is(err, tlerrors.ErrLocked):
		result = "locked"
	case errors.Is(err, tlerrors.ErrInvalidInput):
		result = "invalid"
	default:
		result = "error"
	}
	if err != nil {
		span.RecordError(err)
		if result == "error" {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.SetAttributes(attribute.String("tasklock.result", result))
	metrics.TaskOperations.WithLabelValues(op, result).Inc()
}

// lockedOut converts a rejected conditional write into ErrLocked.
func lockedOut(err error) error {
	if errors.Is(err, store.ErrConditionFailed) {
		return tlerrors.ErrLocked
	}
	return err
}

// Create inserts a new unlocked task owned by actor.
func (s *Service) Create(ctx context.Context, actor auth.Identity, in task.Input) (t task.Task, err error) {
	ctx, span := s.start(ctx, "create", "", actor)
	defer func() { finish(span, "create", err) }()

	now := s.locks.Now()
	t, err = task.New(s.newID(), in, actor.ID, now)
	if err != nil {
		return task.Task{}, err
	}
	t, err = s.store.Insert(ctx, t)
	if err != nil {
		return task.Task{}, err
	}
	s.pub.Broadcast(notify.NewTaskCreated(s.View(t), now), actor.ID)
	return t, nil
}

// Get returns the task with an expired lock already cleared.
func (s *Service) Get(ctx context.Context, actor auth.Identity, id string) (t task.Task, err error) {
	ctx, span := s.start(ctx, "get", id, actor)
	defer func() { finish(span, "get", err) }()

	t, err = s.store.Get(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	return lock.Effective(t, s.locks.Now()), nil
}

// List returns every task, newest first.
func (s *Service) List(ctx context.Context, actor auth.Identity) (ts []task.Task, err error) {
	ctx, span := s.start(ctx, "list", "", actor)
	defer func() { finish(span, "list", err) }()

	ts, err = s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.locks.Now()
	for i := range ts {
		ts[i] = lock.Effective(ts[i], now)
	}
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID > ts[j].ID
		}
		return ts[i].CreatedAt.After(ts[j].CreatedAt)
	})
	return ts, nil
}

// Update applies patch for actor. It fails with ErrLocked while another
// user holds an active lock. A lock held by actor is released by the same
// write.
func (s *Service) Update(ctx context.Context, actor auth.Identity, id string, patch task.Patch) (t task.Task, err error) {
	ctx, span := s.start(ctx, "update", id, actor)
	defer func() { finish(span, "update", err) }()

	if err = patch.Validate(); err != nil {
		return task.Task{}, err
	}
	now := s.locks.Now()
	t, err = s.store.Update(ctx, id, lock.Available(actor.ID, now), func(t *task.Task) {
		patch.Apply(t)
		t.UpdatedBy = actor.ID
		t.UpdatedAt = now
		t.Lock = nil
	})
	if err != nil {
		return task.Task{}, lockedOut(err)
	}
	s.pub.Broadcast(notify.NewTaskUpdated(s.View(t), now), actor.ID)
	return t, nil
}

// Delete removes the task for actor and reports whether this call removed
// it. It fails with ErrLocked while another user holds an active lock.
func (s *Service) Delete(ctx context.Context, actor auth.Identity, id string) (removed bool, err error) {
	ctx, span := s.start(ctx, "delete", id, actor)
	defer func() { finish(span, "delete", err) }()

	if _, err = s.store.Get(ctx, id); err != nil {
		return false, err
	}
	now := s.locks.Now()
	removed, err = s.store.Delete(ctx, id, lock.Available(actor.ID, now))
	if err != nil {
		return false, lockedOut(err)
	}
	if removed {
		s.pub.Broadcast(notify.NewTaskDeleted(id, now), actor.ID)
	}
	return removed, nil
}

// Lock acquires the edit lock on id for actor.
func (s *Service) Lock(ctx context.Context, actor auth.Identity, id string) (t task.Task, err error) {
	ctx, span := s.start(ctx, "lock", id, actor)
	defer func() { finish(span, "lock", err) }()

	t, err = s.locks.Acquire(ctx, id, actor.ID)
	if err != nil {
		return task.Task{}, err
	}
	by := task.User{ID: actor.ID, DisplayName: actor.DisplayName}
	s.pub.Broadcast(notify.NewTaskLocked(id, by, t.Lock.AcquiredAt, s.locks.Now()), actor.ID)
	return t, nil
}

// Unlock releases actor's lock on id. Unlocking a task locked by someone
// else returns it unchanged and publishes nothing.
func (s *Service) Unlock(ctx context.Context, actor auth.Identity, id string) (t task.Task, err error) {
	ctx, span := s.start(ctx, "unlock", id, actor)
	defer func() { finish(span, "unlock", err) }()

	t, err = s.locks.Release(ctx, id, actor.ID)
	if err != nil {
		return task.Task{}, err
	}
	now := s.locks.Now()
	t = lock.Effective(t, now)
	if t.Lock == nil {
		s.pub.Broadcast(notify.NewTaskUnlocked(id, now), actor.ID)
	}
	return t, nil
}

// LocksSwept publishes task:unlocked for locks cleared by the sweeper. It
// matches the hook expected by lock.Manager.Run.
func (s *Service) LocksSwept(cleared []task.Task) {
	now := s.locks.Now()
	for _, t := range cleared {
		s.logger.Debug("service: expired lock cleared", "task", t.ID)
		s.pub.Broadcast(notify.NewTaskUnlocked(t.ID, now), "")
	}
}
