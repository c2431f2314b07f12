package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JonMunkholm/tracker/internal/core"
)

// SubscriberConfig describes the consumer-group subscription.
type SubscriberConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	StartOffset string // "earliest" or "latest"; applies when the group has no committed offset
	MaxWait     time.Duration
}

// messageReader is the part of *kafka.Reader the subscriber uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubscriber is a core.Subscriber backed by a consumer group.
// Offsets are committed synchronously by Ack, so a message that was fetched
// but not acknowledged is redelivered after a restart or rebalance.
type KafkaSubscriber struct {
	reader messageReader
	topic  string
}

// NewKafkaSubscriber joins the consumer group described by cfg.
func NewKafkaSubscriber(cfg SubscriberConfig) (*KafkaSubscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka subscriber: no brokers configured")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka subscriber: topic and group id are required")
	}

	start := kafka.FirstOffset
	switch strings.ToLower(cfg.StartOffset) {
	case "", "earliest":
	case "latest":
		start = kafka.LastOffset
	default:
		return nil, fmt.Errorf("kafka subscriber: unknown start offset %q", cfg.StartOffset)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    start,
		MaxWait:        cfg.MaxWait,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		ErrorLogger:    kafkaLogger(slog.LevelError),
	})

	return &KafkaSubscriber{reader: reader, topic: cfg.Topic}, nil
}

// Next blocks until a message arrives. Payloads that do not decode are
// returned with Delivery.Err set, not as an error.
func (s *KafkaSubscriber) Next(ctx context.Context) (core.Delivery, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return core.Delivery{}, err
	}
	return toDelivery(m), nil
}

// Ack commits the delivery's offset for the group.
func (s *KafkaSubscriber) Ack(ctx context.Context, d core.Delivery) error {
	m, ok := d.Handle.(kafka.Message)
	if !ok {
		return fmt.Errorf("ack %s: delivery was not produced by this subscriber", d.Ref)
	}
	return s.reader.CommitMessages(ctx, m)
}

// Close leaves the consumer group.
func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}

func toDelivery(m kafka.Message) core.Delivery {
	ref := MessageRef(m.Topic, m.Partition, m.Offset)
	rec, err := DecodeMessage(ref, m.Value)
	return core.Delivery{
		Ref:     ref,
		Key:     m.Key,
		Payload: m.Value,
		Record:  rec,
		Err:     err,
		Handle:  m,
	}
}

// kafkaLogger routes the client's internal logging into slog.
func kafkaLogger(level slog.Level) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) {
		slog.Log(context.Background(), level, fmt.Sprintf(msg, args...), "component", "kafka")
	}
}
