package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
)

// MessageProcessor handles raw message values from one topic.
type MessageProcessor interface {
	Process(ctx context.Context, value []byte) error
	Flush()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer consumes messages from Kafka
type KafkaConsumer struct {
	reader    messageReader
	topic     string
	group     string
	processor MessageProcessor
}

// NewKafkaConsumer reads the topic configured under stream ("events" or
// "identities").
func NewKafkaConsumer(cfg config.KafkaConfig, stream string, processor MessageProcessor) (*KafkaConsumer, error) {
	topic := cfg.Topics[stream]
	if topic == "" {
		return nil, fmt.Errorf("no kafka topic configured for %s", stream)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer needs at least one broker")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaConsumer{
		reader:    reader,
		topic:     topic,
		group:     cfg.ConsumerGroup,
		processor: processor,
	}, nil
}

// Start consumes until ctx is cancelled. Messages that fail to process are
// logged and committed so one bad record cannot stall the partition.
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("topic", c.topic).Msg("Kafka consumer stopped")
				return
			}
			log.Error().Err(err).Str("topic", c.topic).Msg("Failed to fetch message")
			continue
		}

		if err := c.processor.Process(ctx, msg.Value); err != nil {
			log.Error().
				Err(err).
				Str("topic", c.topic).
				Int64("offset", msg.Offset).
				Str("value", string(msg.Value)).
				Msg("Failed to process message")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to commit message")
		}
	}
}

func (c *KafkaConsumer) Close() error {
	log.Info().Str("topic", c.topic).Msg("Closing Kafka consumer")
	c.processor.Flush()
	return c.reader.Close()
}
