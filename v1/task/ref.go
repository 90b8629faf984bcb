package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// User is the expanded form of an identity reference.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// UserRef points at a user either by bare id or with the expanded record.
// The zero value is an empty reference.
type UserRef struct {
	id   string
	user *User
}

// Reference returns a UserRef holding only the id.
func Reference(id string) UserRef { return UserRef{id: id} }

// Expanded returns a UserRef carrying the full user record.
func Expanded(u User) UserRef { return UserRef{id: u.ID, user: &u} }

// ID returns the referenced identity id in both forms.
func (r UserRef) ID() string { return r.id }

// User returns the expanded record, if r carries one.
func (r UserRef) User() (User, bool) {
	if r.user == nil {
		return User{}, false
	}
	return *r.user, true
}

// IsExpanded reports whether r carries the full record.
func (r UserRef) IsExpanded() bool { return r.user != nil }

// MarshalJSON encodes a reference as a JSON string and an expanded ref as
// an object.
func (r UserRef) MarshalJSON() ([]byte, error) {
	if r.user != nil {
		return json.Marshal(r.user)
	}
	return json.Marshal(r.id)
}

// UnmarshalJSON accepts either encoding produced by MarshalJSON.
func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("task: empty user reference")
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Reference(id)
		return nil
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*r = Expanded(u)
	return nil
}

// Resolver expands identity ids. Implementations return a plain Reference
// for ids they do not know.
type Resolver interface {
	Resolve(id string) UserRef
}

// View is the wire representation of a task with user fields resolved.
type View struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedBy   UserRef    `json:"createdBy"`
	UpdatedBy   UserRef    `json:"updatedBy"`
	LockedBy    *UserRef   `json:"lockedBy,omitempty"`
	LockedAt    *time.Time `json:"lockedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewView resolves t's user fields through r. A nil resolver leaves every
// field as a bare reference.
func NewView(t Task, r Resolver) View {
	resolve := func(id string) UserRef {
		if r == nil || id == "" {
			return Reference(id)
		}
		return r.Resolve(id)
	}
	v := View{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    t.Priority,
		CreatedBy:   resolve(t.CreatedBy),
		UpdatedBy:   resolve(t.UpdatedBy),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.DueDate != nil {
		d := *t.DueDate
		v.DueDate = &d
	}
	if t.Lock != nil {
		ref := resolve(t.Lock.Owner)
		at := t.Lock.AcquiredAt
		v.LockedBy = &ref
		v.LockedAt = &at
	}
	return v
}
