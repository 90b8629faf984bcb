package feed

import (
	"context"
	"strings"

	nats "github.com/nats-io/nats.go"
)

// DefaultNATSSubject prefixes the subjects events are published on.
const DefaultNATSSubject = "tasklock.events"

// NATSSink publishes events on <subject>.<type>, with the type's colon
// turned into a subject token separator, e.g. tasklock.events.task.created.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink returns a NATSSink on conn.
func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSSink{conn: conn, subject: subject}
}

// Subject returns the subject used for eventType.
func (s *NATSSink) Subject(eventType string) string {
	return s.subject + "." + strings.ReplaceAll(eventType, ":", ".")
}

// Publish implements Sink.
func (s *NATSSink) Publish(ctx context.Context, eventType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(eventType), data)
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
