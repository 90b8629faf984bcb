package feed

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

func TestNATSSinkPublishes(t *testing.T) {
	s := natsserver.RunRandClientPortServer()
	defer s.Shutdown()

	conn, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	sub, err := conn.SubscribeSync(DefaultNATSSubject + ".>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	sink := NewNATSSink(conn, "")
	if err := sink.Publish(context.Background(), "task:created", []byte(`{"type":"task:created"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.NextMsg(time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if msg.Subject != "tasklock.events.task.created" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if string(msg.Data) != `{"type":"task:created"}` {
		t.Fatalf("unexpected data %s", msg.Data)
	}
}

func TestNATSSinkCancelledContext(t *testing.T) {
	s := natsserver.RunRandClientPortServer()
	defer s.Shutdown()
	conn, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewNATSSink(conn, "x").Publish(ctx, "task:deleted", nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
