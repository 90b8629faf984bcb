// Package task holds the task record shared by the store, the lock manager
// and the service, together with the input rules for creating and patching it
// and the wire view used at the boundary.
package task

import (
	"fmt"
	"strings"
	"time"

	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
)

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Lock is the edit claim persisted on a task. A task without a claim has a
// nil Lock, so owner and acquisition time are always present together.
type Lock struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Task is a single entry of the shared list. User fields hold identity ids
// only; expansion to display names happens in View.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	UpdatedBy   string     `json:"updatedBy"`
	Lock        *Lock      `json:"lock,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	// Version is bumped by the store on every write.
	Version int64 `json:"version"`
}

// Clone returns a copy of t that shares no pointers with it.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.Lock != nil {
		l := *t.Lock
		c.Lock = &l
	}
	return c
}

// LockOwner returns the persisted lock owner, or "" when there is none.
// It does not look at expiry.
func (t Task) LockOwner() string {
	if t.Lock == nil {
		return ""
	}
	return t.Lock.Owner
}

// Input carries the fields accepted when creating a task.
type Input struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// New builds a fresh, unlocked task from in. The creator is also recorded
// as the last modifier.
func New(id string, in Input, creator string, now time.Time) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if err := checkTitle(title); err != nil {
		return Task{}, err
	}
	desc := strings.TrimSpace(in.Description)
	if err := checkDescription(desc); err != nil {
		return Task{}, err
	}
	prio := in.Priority
	if prio == "" {
		prio = PriorityMedium
	}
	if !prio.Valid() {
		return Task{}, fmt.Errorf("%w: unknown priority %q", tlerrors.ErrInvalidInput, prio)
	}
	t := Task{
		ID:          id,
		Title:       title,
		Description: desc,
		Priority:    prio,
		CreatedBy:   creator,
		UpdatedBy:   creator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DueDate != nil {
		d := *in.DueDate
		t.DueDate = &d
	}
	return t, nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Validate checks the patched values against the record rules.
func (p Patch) Validate() error {
	if p.Title != nil {
		if err := checkTitle(strings.TrimSpace(*p.Title)); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := checkDescription(strings.TrimSpace(*p.Description)); err != nil {
			return err
		}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", tlerrors.ErrInvalidInput, *p.Priority)
	}
	return nil
}

// Apply writes the non-nil fields of p into t.
func (p Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
}

func checkTitle(title string) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", tlerrors.ErrInvalidInput)
	}
	if len([]rune(title)) > MaxTitleLength {
		return fmt.Errorf("%w: title longer than %d characters", tlerrors.ErrInvalidInput, MaxTitleLength)
	}
	return nil
}

func checkDescription(desc string) error {
	if len([]rune(desc)) > MaxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d characters", tlerrors.ErrInvalidInput, MaxDescriptionLength)
	}
	return nil
}
