// Package notify pushes task events to connected clients. It holds the
// connection registry with its liveness probing, the notifier that fans an
// event out to every registered connection, and the websocket transport
// and handshake handler that feed the registry.
package notify

import (
	"encoding/json"
	"time"

	"github.com/mirkobrombin/go-tasklock/v1/task"
)

// Type tags an event.
type Type string

const (
	TaskCreated  Type = "task:created"
	TaskUpdated  Type = "task:updated"
	TaskDeleted  Type = "task:deleted"
	TaskLocked   Type = "task:locked"
	TaskUnlocked Type = "task:unlocked"
	ErrorEvent   Type = "error"
	Greeting     Type = "connected"
)

// Event is the message sent on the push channel.
type Event struct {
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is an event as decoded by a client, with the payload left raw
// until its type is known.
type Message struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskPayload carries a full task for created and updated events.
type TaskPayload struct {
	Task task.View `json:"task"`
}

// TaskIDPayload carries the task id for deleted and unlocked events.
type TaskIDPayload struct {
	TaskID string `json:"taskId"`
}

// LockedPayload is the payload of task:locked.
type LockedPayload struct {
	TaskID   string    `json:"taskId"`
	LockedBy task.User `json:"lockedBy"`
	LockedAt time.Time `json:"lockedAt"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ConnectedPayload greets a freshly registered connection.
type ConnectedPayload struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// NewTaskCreated builds a task:created event.
func NewTaskCreated(v task.View, at time.Time) Event {
	return Event{Type: TaskCreated, Payload: TaskPayload{Task: v}, Timestamp: at}
}

// NewTaskUpdated builds a task:updated event.
func NewTaskUpdated(v task.View, at time.Time) Event {
	return Event{Type: TaskUpdated, Payload: TaskPayload{Task: v}, Timestamp: at}
}

// NewTaskDeleted builds a task:deleted event.
func NewTaskDeleted(id string, at time.Time) Event {
	return Event{Type: TaskDeleted, Payload: TaskIDPayload{TaskID: id}, Timestamp: at}
}

// NewTaskLocked builds a task:locked event.
func NewTaskLocked(id string, by task.User, lockedAt, at time.Time) Event {
	return Event{Type: TaskLocked, Payload: LockedPayload{TaskID: id, LockedBy: by, LockedAt: lockedAt}, Timestamp: at}
}

// NewTaskUnlocked builds a task:unlocked event.
func NewTaskUnlocked(id string, at time.Time) Event {
	return Event{Type: TaskUnlocked, Payload: TaskIDPayload{TaskID: id}, Timestamp: at}
}

// NewError builds an error event.
func NewError(message, code string, at time.Time) Event {
	return Event{Type: ErrorEvent, Payload: ErrorPayload{Message: message, Code: code}, Timestamp: at}
}

// NewConnected builds the greeting sent to a new connection.
func NewConnected(userID string, at time.Time) Event {
	return Event{
		Type:      Greeting,
		Payload:   ConnectedPayload{Message: "Connected to real-time updates", UserID: userID},
		Timestamp: at,
	}
}
