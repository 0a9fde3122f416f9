package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes normalized rows for the relay. Messages are keyed by
// workspace so a workspace's rows stay ordered within a partition.
type KafkaSink struct {
	writers map[string]messageWriter
}

func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink needs at least one broker")
	}

	writers := make(map[string]messageWriter)
	for name, topic := range cfg.Topics {
		topic := topic
		writers[name] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    100,
			BatchTimeout: time.Millisecond * 100,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Failed to deliver messages")
				}
			},
		}
	}

	return &KafkaSink{writers: writers}, nil
}

func (s *KafkaSink) Name() string { return config.SinkKafka }

func (s *KafkaSink) Send(ctx context.Context, batch Batch) error {
	if len(batch.Events) > 0 {
		w, err := s.writer("events")
		if err != nil {
			return err
		}
		if err := produce(ctx, w, batch.Events, func(e Event) string { return e.WorkspaceID }); err != nil {
			return fmt.Errorf("produce events: %w", err)
		}
	}

	if len(batch.Identities) > 0 {
		w, err := s.writer("identities")
		if err != nil {
			return err
		}
		if err := produce(ctx, w, batch.Identities, func(i Identity) string { return i.WorkspaceID }); err != nil {
			return fmt.Errorf("produce identities: %w", err)
		}
	}

	return nil
}

func (s *KafkaSink) writer(name string) (messageWriter, error) {
	w, ok := s.writers[name]
	if !ok {
		return nil, fmt.Errorf("no kafka topic configured for %s", name)
	}
	return w, nil
}

func produce[T any](ctx context.Context, w messageWriter, rows []T, key func(T) string) error {
	msgs := make([]kafka.Message, 0, len(rows))
	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key(r)),
			Value: data,
		})
	}

	return w.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	for _, w := range s.writers {
		w.Close()
	}
	return nil
}
