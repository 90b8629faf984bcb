package feed

import (
	"context"
	"errors"
	"testing"

	sarama "github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaSinkPublishes(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"type":"task:locked"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	sink := NewKafkaSinkFromProducer(producer, "")
	if err := sink.Publish(context.Background(), "task:locked", []byte(`{"type":"task:locked"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaSinkBehindBreaker(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	cb := NewCircuitBreaker(NewKafkaSinkFromProducer(producer, "events"), 1, 0)
	if err := cb.Publish(context.Background(), "task:updated", []byte("{}")); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	cb.mu.RLock()
	st := cb.state
	cb.mu.RUnlock()
	if st != stateOpen {
		t.Fatal("expected open circuit after failure")
	}
	_ = producer.Close()
}
