// Package store provides the task record store used by the lock manager and
// the task service. Every backend offers a conditional write: the caller
// supplies a Condition over the record's current state and the backend
// applies the mutation only if the condition still holds at commit time,
// atomically with the read it was evaluated on.
package store

import (
	"context"
	"errors"
	"time"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

const defaultOpTimeout = 5 * time.Second

// ErrConditionFailed is returned when a conditional write is rejected,
// either because the condition did not hold or because another writer
// committed first.
var ErrConditionFailed = errors.New("store: condition failed")

// ErrExists is returned by Insert when the id is already taken.
var ErrExists = errors.New("store: task already exists")

// Condition is evaluated against the current record inside a conditional
// write. It must be a pure function of the record.
type Condition func(t task.Task) bool

// Mutation edits a copy of the current record. Changes to ID and Version
// are ignored.
type Mutation func(t *task.Task)

// Store is the task record store.
type Store interface {
	// Insert stores a new record and returns it with its first version.
	Insert(ctx context.Context, t task.Task) (task.Task, error)
	// Get returns the record for id or errors.ErrNotFound.
	Get(ctx context.Context, id string) (task.Task, error)
	// List returns every record in no particular order.
	List(ctx context.Context) ([]task.Task, error)
	// Update applies mutate if cond holds for the current record. It returns
	// errors.ErrNotFound for an unknown id and ErrConditionFailed when the
	// write is rejected.
	Update(ctx context.Context, id string, cond Condition, mutate Mutation) (task.Task, error)
	// Delete removes the record if cond holds. It reports false without an
	// error when the record is already gone.
	Delete(ctx context.Context, id string, cond Condition) (bool, error)
}

// Option configures the timeout of a backend.
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout sets the per-operation timeout for backend calls.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func buildOptions(opts []Option) options {
	o := options{timeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// checkCtx reports an already expired or cancelled context before a
// backend round trip is attempted.
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return tlerrors.ErrTimeout
		}
		return err
	}
	return nil
}

// next derives the record to persist from cur and mutate.
func next(cur task.Task, mutate Mutation) task.Task {
	n := cur.Clone()
	if mutate != nil {
		mutate(&n)
	}
	n.ID = cur.ID
	n.Version = cur.Version + 1
	return n
}

func holds(cond Condition, t task.Task) bool {
	return cond == nil || cond(t)
}
