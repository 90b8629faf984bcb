package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/store"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

type backend struct {
	name string
	open func(t *testing.T) store.Store
	// concurrent is false for backends whose test driver serialises
	// connections, where a race test proves nothing.
	concurrent bool
}

func newRedisBackend(t *testing.T) store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return store.NewRedisStore(client, "")
}

func newGormBackend(t *testing.T) store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	s, err := store.NewGormStore(db)
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return s
}

var backends = []backend{
	{name: "memory", open: func(*testing.T) store.Store { return store.NewInMemoryStore() }, concurrent: true},
	{name: "redis", open: newRedisBackend, concurrent: true},
	{name: "gorm", open: newGormBackend},
}

func sample(id string) task.Task {
	now := time.Now().UTC().Truncate(time.Millisecond)
	tk, _ := task.New(id, task.Input{Title: "write report"}, "alice", now)
	return tk
}

func unlocked(t task.Task) bool { return t.Lock == nil }

func TestStoreInsertGetList(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()

			got, err := s.Insert(ctx, sample("t1"))
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if got.Version != 1 {
				t.Fatalf("expected version 1, got %d", got.Version)
			}
			if _, err := s.Insert(ctx, sample("t1")); !errors.Is(err, store.ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			if _, err := s.Insert(ctx, sample("t2")); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			tk, err := s.Get(ctx, "t1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if tk.Title != "write report" || tk.CreatedBy != "alice" || tk.Lock != nil {
				t.Fatalf("unexpected record %+v", tk)
			}
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, tlerrors.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("expected 2 tasks, got %d", len(all))
			}
		})
	}
}

func TestStoreConditionalUpdate(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			if _, err := s.Insert(ctx, sample("t1")); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			at := time.Now().UTC().Truncate(time.Millisecond)
			locked, err := s.Update(ctx, "t1", unlocked, func(tk *task.Task) {
				tk.Lock = &task.Lock{Owner: "alice", AcquiredAt: at}
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if locked.LockOwner() != "alice" || locked.Version != 2 {
				t.Fatalf("unexpected record %+v", locked)
			}

			if _, err := s.Update(ctx, "t1", unlocked, func(tk *task.Task) {
				tk.Lock = &task.Lock{Owner: "bob", AcquiredAt: at}
			}); !errors.Is(err, store.ErrConditionFailed) {
				t.Fatalf("expected ErrConditionFailed, got %v", err)
			}

			tk, err := s.Get(ctx, "t1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if tk.LockOwner() != "alice" || !tk.Lock.AcquiredAt.Equal(at) {
				t.Fatalf("lock changed after rejected write: %+v", tk.Lock)
			}

			cleared, err := s.Update(ctx, "t1", nil, func(tk *task.Task) { tk.Lock = nil })
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if cleared.Lock != nil {
				t.Fatalf("expected lock cleared, got %+v", cleared.Lock)
			}
			if tk, _ := s.Get(ctx, "t1"); tk.Lock != nil {
				t.Fatalf("cleared lock not persisted: %+v", tk.Lock)
			}

			if _, err := s.Update(ctx, "missing", nil, nil); !errors.Is(err, tlerrors.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreConditionalDelete(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			tk := sample("t1")
			tk.Lock = &task.Lock{Owner: "alice", AcquiredAt: time.Now().UTC()}
			if _, err := s.Insert(ctx, tk); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			if _, err := s.Delete(ctx, "t1", unlocked); !errors.Is(err, store.ErrConditionFailed) {
				t.Fatalf("expected ErrConditionFailed, got %v", err)
			}
			ok, err := s.Delete(ctx, "t1", func(t task.Task) bool { return t.LockOwner() == "alice" })
			if err != nil || !ok {
				t.Fatalf("Delete: ok=%v err=%v", ok, err)
			}
			ok, err = s.Delete(ctx, "t1", nil)
			if err != nil || ok {
				t.Fatalf("second Delete: ok=%v err=%v", ok, err)
			}
			all, _ := s.List(ctx)
			if len(all) != 0 {
				t.Fatalf("expected empty list, got %d", len(all))
			}
		})
	}
}

func TestStoreConcurrentClaimHasOneWinner(t *testing.T) {
	for _, b := range backends {
		if !b.concurrent {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			if _, err := s.Insert(ctx, sample("t1")); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			const n = 16
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins []string
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(owner string) {
					defer wg.Done()
					_, err := s.Update(ctx, "t1", unlocked, func(tk *task.Task) {
						tk.Lock = &task.Lock{Owner: owner, AcquiredAt: time.Now()}
					})
					if err == nil {
						mu.Lock()
						wins = append(wins, owner)
						mu.Unlock()
					} else if !errors.Is(err, store.ErrConditionFailed) {
						t.Errorf("unexpected error: %v", err)
					}
				}(fmt.Sprintf("user-%d", i))
			}
			wg.Wait()

			if len(wins) != 1 {
				t.Fatalf("expected exactly one winner, got %v", wins)
			}
			tk, _ := s.Get(ctx, "t1")
			if tk.LockOwner() != wins[0] {
				t.Fatalf("stored owner %q, winner %q", tk.LockOwner(), wins[0])
			}
		})
	}
}

func TestStoreExpiredContext(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if _, err := s.Get(ctx, "t1"); !errors.Is(err, tlerrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
