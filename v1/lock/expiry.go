package lock

import (
	"time"

	"github.com/mirkobrombin/go-tasklock/v1/store"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

// Timeout is how long a lock stays active after it was acquired.
const Timeout = 5 * time.Minute

// Expired reports whether l is no longer active at now. A nil lock is
// treated as expired. Exactly Timeout after acquisition the lock is still
// active.
func Expired(l *task.Lock, now time.Time) bool {
	if l == nil {
		return true
	}
	return now.Sub(l.AcquiredAt) > Timeout
}

// IsHeldByOther reports whether t carries an active lock owned by someone
// other than requester.
func IsHeldByOther(t task.Task, requester string, now time.Time) bool {
	if t.Lock == nil || t.Lock.Owner == requester {
		return false
	}
	return !Expired(t.Lock, now)
}

// Available is the write predicate for requester: the lock is absent,
// expired, or already owned by requester.
func Available(requester string, now time.Time) store.Condition {
	return func(t task.Task) bool {
		return !IsHeldByOther(t, requester, now)
	}
}

// Effective returns t with an expired lock removed, so readers never see
// a lock that no longer applies.
func Effective(t task.Task, now time.Time) task.Task {
	if t.Lock != nil && Expired(t.Lock, now) {
		t = t.Clone()
		t.Lock = nil
	}
	return t
}
