package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

const defaultGormTableName = "tasklock_tasks"

// taskRow is the relational layout of a task. The lock is flattened into
// two nullable columns.
type taskRow struct {
	ID             string `gorm:"primaryKey;column:id"`
	Title          string
	Description    string
	Completed      bool
	Priority       string
	DueDate        *time.Time
	CreatedBy      string
	UpdatedBy      string
	LockOwner      *string
	LockAcquiredAt *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
	Version        int64
}

func rowFromTask(t task.Task) taskRow {
	r := taskRow{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		CreatedBy:   t.CreatedBy,
		UpdatedBy:   t.UpdatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Version:     t.Version,
	}
	if t.Lock != nil {
		owner := t.Lock.Owner
		at := t.Lock.AcquiredAt
		r.LockOwner = &owner
		r.LockAcquiredAt = &at
	}
	return r
}

func (r taskRow) task() task.Task {
	t := task.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		Priority:    task.Priority(r.Priority),
		DueDate:     r.DueDate,
		CreatedBy:   r.CreatedBy,
		UpdatedBy:   r.UpdatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Version:     r.Version,
	}
	if r.LockOwner != nil && r.LockAcquiredAt != nil {
		t.Lock = &task.Lock{Owner: *r.LockOwner, AcquiredAt: *r.LockAcquiredAt}
	}
	return t
}

// columns lists every mutable column of r, nil pointers included, so a
// cleared lock is written back as NULL.
func (r taskRow) columns() map[string]any {
	return map[string]any{
		"title":            r.Title,
		"description":      r.Description,
		"completed":        r.Completed,
		"priority":         r.Priority,
		"due_date":         r.DueDate,
		"updated_by":       r.UpdatedBy,
		"lock_owner":       r.LockOwner,
		"lock_acquired_at": r.LockAcquiredAt,
		"updated_at":       r.UpdatedAt,
		"version":          r.Version,
	}
}

// GormStore implements Store on a SQL database through GORM. Conditional
// writes read the row inside a transaction, evaluate the condition and
// update with a version check, so a concurrent writer makes the update
// match no row.
type GormStore struct {
	db        *gorm.DB
	tableName string
	opts      options
}

// GormOption configures a GormStore.
type GormOption func(*GormStore)

// WithGormTableName sets the table holding the tasks.
func WithGormTableName(name string) GormOption {
	return func(s *GormStore) {
		s.tableName = name
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(s *GormStore) {
		s.opts.timeout = d
	}
}

// NewGormStore returns a GormStore on db, creating the table if needed.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	s := &GormStore{db: db, tableName: defaultGormTableName, opts: buildOptions(nil)}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.Table(s.tableName).AutoMigrate(&taskRow{}); err != nil {
		return nil, err
	}
	return s, nil
}

func translateGorm(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return tlerrors.ErrTimeout
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tlerrors.ErrNotFound
	}
	return err
}

// Insert implements Store.Insert.
func (s *GormStore) Insert(ctx context.Context, t task.Task) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	t = t.Clone()
	t.Version = 1
	row := rowFromTask(t)

	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	err := s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Table(s.tableName).Where("id = ?", t.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		return tx.Table(s.tableName).Create(&row).Error
	})
	if err != nil {
		return task.Task{}, translateGorm(err)
	}
	return t, nil
}

// Get implements Store.Get.
func (s *GormStore) Get(ctx context.Context, id string) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row taskRow
	if err := s.db.WithContext(cctx).Table(s.tableName).First(&row, "id = ?", id).Error; err != nil {
		return task.Task{}, translateGorm(err)
	}
	return row.task(), nil
}

// List implements Store.List.
func (s *GormStore) List(ctx context.Context) ([]task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []taskRow
	if err := s.db.WithContext(cctx).Table(s.tableName).Find(&rows).Error; err != nil {
		return nil, translateGorm(err)
	}
	out := make([]task.Task, len(rows))
	for i, r := range rows {
		out[i] = r.task()
	}
	return out, nil
}

// Update implements Store.Update.
func (s *GormStore) Update(ctx context.Context, id string, cond Condition, mutate Mutation) (task.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return task.Task{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var out task.Task
	err := s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		var row taskRow
		if err := tx.Table(s.tableName).First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		cur := row.task()
		if !holds(cond, cur) {
			return ErrConditionFailed
		}
		n := next(cur, mutate)
		res := tx.Table(s.tableName).
			Where("id = ? AND version = ?", id, cur.Version).
			Updates(rowFromTask(n).columns())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConditionFailed
		}
		out = n
		return nil
	})
	if err != nil {
		return task.Task{}, translateGorm(err)
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *GormStore) Delete(ctx context.Context, id string, cond Condition) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	removed := false
	err := s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		var row taskRow
		err := tx.Table(s.tableName).First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cur := row.task()
		if !holds(cond, cur) {
			return ErrConditionFailed
		}
		res := tx.Table(s.tableName).
			Where("id = ? AND version = ?", id, cur.Version).
			Delete(&taskRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConditionFailed
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, translateGorm(err)
	}
	return removed, nil
}
