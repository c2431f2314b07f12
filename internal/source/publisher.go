package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JonMunkholm/tracker/internal/core"
)

// Dead-letter headers.
const (
	HeaderError     = "x-error"
	HeaderErrorCode = "x-error-code"
	HeaderSource    = "x-source"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes tracking events to a topic. It backs the produce command
// and the stream dead-letter topic.
type Publisher struct {
	w     messageWriter
	topic string
}

// NewPublisher returns a publisher for topic. Writes wait for all in-sync
// replicas and hash the key so one package stays on one partition.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		ErrorLogger:            kafkaLogger(slog.LevelError),
	}
	return &Publisher{w: w, topic: topic}, nil
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string { return p.topic }

// Publish writes each record as one message keyed by package id.
func (p *Publisher) Publish(ctx context.Context, recs []core.CanonicalRecord) error {
	if len(recs) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		body, err := EncodeRecord(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.Ref, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(rec.PackageID, 10)),
			Value: body,
		})
	}

	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// DeadLetter republishes the original message bytes with the failure
// attached as headers. It implements core.DeadLetterer.
func (p *Publisher) DeadLetter(ctx context.Context, d core.Delivery, cause error) error {
	msg := kafka.Message{
		Key:   d.Key,
		Value: d.Payload,
		Headers: []kafka.Header{
			{Key: HeaderError, Value: []byte(cause.Error())},
			{Key: HeaderErrorCode, Value: []byte(core.MapError(cause).Code)},
			{Key: HeaderSource, Value: []byte(d.Ref)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("dead-letter %s to %s: %w", d.Ref, p.topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.w.Close()
}
