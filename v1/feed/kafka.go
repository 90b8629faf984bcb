package feed

import (
	"context"

	sarama "github.com/IBM/sarama"
)

// DefaultKafkaTopic is the topic events are produced to.
const DefaultKafkaTopic = "tasklock-events"

// KafkaSink produces every event to one topic, keyed by event type.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to brokers.
func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkFromProducer(producer, topic), nil
}

// NewKafkaSinkFromProducer returns a KafkaSink using producer.
func NewKafkaSinkFromProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{producer: producer, topic: topic}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, eventType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(eventType),
		Value: sarama.ByteEncoder(data),
	}
	_, _, err := s.producer.SendMessage(msg)
	return err
}

// Close closes the producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
