package source

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tracker/internal/core"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, errors.New("no more messages")
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestKafkaSubscriber_NextAndAck(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "eventos", Partition: 1, Offset: 10, Key: []byte("7"), Value: []byte(`{"id_pacote": 7}`)},
		{Topic: "eventos", Partition: 1, Offset: 11, Value: []byte(`garbage`)},
	}}
	sub := &KafkaSubscriber{reader: reader, topic: "eventos"}
	ctx := context.Background()

	d, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "eventos/1@10", d.Ref)
	assert.Equal(t, []byte("7"), d.Key)
	assert.NoError(t, d.Err)
	assert.Equal(t, "eventos/1@10", d.Record.Ref)
	require.NoError(t, sub.Ack(ctx, d))

	bad, err := sub.Next(ctx)
	require.NoError(t, err, "a malformed payload is not a transport error")
	assert.ErrorIs(t, bad.Err, core.ErrMalformedPayload)
	assert.Equal(t, []byte("garbage"), bad.Payload)
	require.NoError(t, sub.Ack(ctx, bad))

	require.Len(t, reader.committed, 2)
	assert.EqualValues(t, 11, reader.committed[1].Offset)

	_, err = sub.Next(ctx)
	assert.Error(t, err)

	require.NoError(t, sub.Close())
	assert.True(t, reader.closed)
}

func TestKafkaSubscriber_AckForeignDelivery(t *testing.T) {
	sub := &KafkaSubscriber{reader: &fakeReader{}, topic: "eventos"}
	err := sub.Ack(context.Background(), core.Delivery{Ref: "x"})
	assert.Error(t, err)
}

func TestNewKafkaSubscriber_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SubscriberConfig
	}{
		{"no brokers", SubscriberConfig{Topic: "t", GroupID: "g"}},
		{"no topic", SubscriberConfig{Brokers: []string{"b:1"}, GroupID: "g"}},
		{"no group", SubscriberConfig{Brokers: []string{"b:1"}, Topic: "t"}},
		{"bad offset", SubscriberConfig{Brokers: []string{"b:1"}, Topic: "t", GroupID: "g", StartOffset: "middle"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKafkaSubscriber(tt.cfg)
			assert.Error(t, err)
		})
	}
}
