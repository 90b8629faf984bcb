package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/lock"
	"github.com/mirkobrombin/go-tasklock/v1/notify"
	"github.com/mirkobrombin/go-tasklock/v1/store"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

type published struct {
	ev      notify.Event
	exclude string
}

type recorder struct {
	mu  sync.Mutex
	evs []published
}

func (r *recorder) Broadcast(ev notify.Event, exclude string) {
	r.mu.Lock()
	r.evs = append(r.evs, published{ev: ev, exclude: exclude})
	r.mu.Unlock()
}

func (r *recorder) last(t *testing.T) published {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.evs) == 0 {
		t.Fatal("no event published")
	}
	return r.evs[len(r.evs)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evs)
}

var (
	alice = auth.Identity{ID: "alice", DisplayName: "Alice"}
	bob   = auth.Identity{ID: "bob", DisplayName: "Bob"}
)

type fixture struct {
	svc *Service
	pub *recorder
	now time.Time
	mu  sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{pub: &recorder{}, now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	st := store.NewInMemoryStore()
	m := lock.NewManager(st, lock.WithClock(f.clock))
	n := 0
	f.svc = New(st, m, f.pub, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}))
	return f
}

func (f *fixture) create(t *testing.T, title string) task.Task {
	t.Helper()
	tk, err := f.svc.Create(context.Background(), alice, task.Input{Title: title})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tk
}

func TestCreatePublishes(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "Buy milk")
	if tk.Priority != task.PriorityMedium || tk.CreatedBy != "alice" {
		t.Fatalf("unexpected task %+v", tk)
	}
	p := f.pub.last(t)
	if p.ev.Type != notify.TaskCreated || p.exclude != "alice" {
		t.Fatalf("unexpected event %+v", p)
	}
	payload := p.ev.Payload.(notify.TaskPayload)
	if payload.Task.ID != tk.ID || payload.Task.Title != "Buy milk" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, err := f.svc.Create(context.Background(), alice, task.Input{}); !errors.Is(err, tlerrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if f.pub.count() != 1 {
		t.Fatal("failed create published an event")
	}
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.create(t, "first")
	f.advance(time.Second)
	f.create(t, "second")

	ts, err := f.svc.List(context.Background(), alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ts) != 2 || ts[0].Title != "second" || ts[1].Title != "first" {
		t.Fatalf("unexpected order %+v", ts)
	}
}

func TestLockedTaskRejectsOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "report")

	if _, err := f.svc.Lock(ctx, alice, tk.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	p := f.pub.last(t)
	locked := p.ev.Payload.(notify.LockedPayload)
	if p.ev.Type != notify.TaskLocked || locked.LockedBy.DisplayName != "Alice" || !locked.LockedAt.Equal(f.clock()) {
		t.Fatalf("unexpected lock event %+v", p)
	}

	title := "hijack"
	if _, err := f.svc.Update(ctx, bob, tk.ID, task.Patch{Title: &title}); !errors.Is(err, tlerrors.ErrLocked) {
		t.Fatalf("update: expected ErrLocked, got %v", err)
	}
	if _, err := f.svc.Delete(ctx, bob, tk.ID); !errors.Is(err, tlerrors.ErrLocked) {
		t.Fatalf("delete: expected ErrLocked, got %v", err)
	}
	if _, err := f.svc.Lock(ctx, bob, tk.ID); !errors.Is(err, tlerrors.ErrLocked) {
		t.Fatalf("lock: expected ErrLocked, got %v", err)
	}

	f.advance(lock.Timeout + time.Millisecond)
	got, err := f.svc.Get(ctx, bob, tk.ID)
	if err != nil || got.Lock != nil {
		t.Fatalf("expired lock still visible: %+v %v", got.Lock, err)
	}
	if _, err := f.svc.Update(ctx, bob, tk.ID, task.Patch{Title: &title}); err != nil {
		t.Fatalf("update after expiry: %v", err)
	}
}

func TestUpdateByHolderClearsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "report")
	_, _ = f.svc.Lock(ctx, alice, tk.ID)

	done := true
	got, err := f.svc.Update(ctx, alice, tk.ID, task.Patch{Completed: &done})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Lock != nil || !got.Completed || got.UpdatedBy != "alice" {
		t.Fatalf("unexpected task %+v", got)
	}
	if p := f.pub.last(t); p.ev.Type != notify.TaskUpdated || p.exclude != "alice" {
		t.Fatalf("unexpected event %+v", p)
	}
}

func TestUnlockByNonOwnerPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "report")
	_, _ = f.svc.Lock(ctx, alice, tk.ID)
	before := f.pub.count()

	got, err := f.svc.Unlock(ctx, bob, tk.ID)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if got.LockOwner() != "alice" {
		t.Fatalf("non-owner unlock changed the lock: %+v", got.Lock)
	}
	if f.pub.count() != before {
		t.Fatal("non-owner unlock published an event")
	}

	if _, err := f.svc.Unlock(ctx, alice, tk.ID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if p := f.pub.last(t); p.ev.Type != notify.TaskUnlocked {
		t.Fatalf("expected task:unlocked, got %s", p.ev.Type)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "report")

	ok, err := f.svc.Delete(ctx, alice, tk.ID)
	if err != nil || !ok {
		t.Fatalf("Delete: %v %v", ok, err)
	}
	if p := f.pub.last(t); p.ev.Type != notify.TaskDeleted {
		t.Fatalf("expected task:deleted, got %s", p.ev.Type)
	}
	if _, err := f.svc.Delete(ctx, alice, tk.ID); !errors.Is(err, tlerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Lock(ctx, alice, tk.ID); !errors.Is(err, tlerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocksSweptPublishesToEveryone(t *testing.T) {
	f := newFixture(t)
	f.svc.LocksSwept([]task.Task{{ID: "t1"}, {ID: "t2"}})
	if f.pub.count() != 2 {
		t.Fatalf("expected 2 events, got %d", f.pub.count())
	}
	if p := f.pub.last(t); p.ev.Type != notify.TaskUnlocked || p.exclude != "" {
		t.Fatalf("unexpected event %+v", p)
	}
}

// A creates a task, locks it, B is refused, A releases and B's update goes
// through and reaches everyone but B.
func TestEndToEndLockFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "Buy milk")

	if _, err := f.svc.Lock(ctx, alice, tk.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	title := "Buy oat milk"
	patch := task.Patch{Title: &title}
	if _, err := f.svc.Update(ctx, bob, tk.ID, patch); !errors.Is(err, tlerrors.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := f.svc.Unlock(ctx, alice, tk.ID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := f.svc.Update(ctx, bob, tk.ID, patch)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != title || got.UpdatedBy != "bob" {
		t.Fatalf("unexpected task %+v", got)
	}
	p := f.pub.last(t)
	if p.ev.Type != notify.TaskUpdated || p.exclude != "bob" {
		t.Fatalf("unexpected event %+v", p)
	}
}

func TestConcurrentLockOneWinner(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, "contended")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, who := range []auth.Identity{alice, bob} {
		wg.Add(1)
		go func(i int, who auth.Identity) {
			defer wg.Done()
			_, errs[i] = f.svc.Lock(context.Background(), who, tk.ID)
		}(i, who)
	}
	wg.Wait()
	if (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("expected exactly one winner, got %v / %v", errs[0], errs[1])
	}
	for _, err := range errs {
		if err != nil && !errors.Is(err, tlerrors.ErrLocked) {
			t.Fatalf("loser got %v", err)
		}
	}
}
