package main

import (
	"encoding/json"
	"fmt"

	"github.com/mirkobrombin/go-tasklock/v1/notify"
)

// summary renders the interesting fields of a message on one line.
func summary(m notify.Message) string {
	switch m.Type {
	case notify.TaskCreated, notify.TaskUpdated:
		var p notify.TaskPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			break
		}
		state := "open"
		if p.Task.Completed {
			state = "done"
		}
		by := p.Task.UpdatedBy.ID()
		if u, ok := p.Task.UpdatedBy.User(); ok {
			by = u.DisplayName
		}
		return fmt.Sprintf("%s %q [%s, %s] by %s", p.Task.ID, p.Task.Title, p.Task.Priority, state, by)
	case notify.TaskDeleted, notify.TaskUnlocked:
		var p notify.TaskIDPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			break
		}
		return p.TaskID
	case notify.TaskLocked:
		var p notify.LockedPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			break
		}
		return fmt.Sprintf("%s by %s", p.TaskID, p.LockedBy.DisplayName)
	case notify.ErrorEvent:
		var p notify.ErrorPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			break
		}
		return fmt.Sprintf("%s (%s)", p.Message, p.Code)
	case notify.Greeting:
		var p notify.ConnectedPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			break
		}
		return fmt.Sprintf("%s as %s", p.Message, p.UserID)
	}
	return string(m.Payload)
}
