package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber hands out queued deliveries, then cancels the run.
type fakeSubscriber struct {
	mu        sync.Mutex
	queue     []Delivery
	fetchErrs []error
	acked     []string
	cancel    context.CancelFunc
}

func (s *fakeSubscriber) Next(ctx context.Context) (Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		return Delivery{}, err
	}
	if len(s.queue) == 0 {
		s.cancel()
		return Delivery{}, ctx.Err()
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return d, nil
}

func (s *fakeSubscriber) Ack(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, d.Ref)
	return nil
}

func (s *fakeSubscriber) Close() error { return nil }

type fakeDeadLetter struct {
	refs   []string
	causes []error
}

func (f *fakeDeadLetter) DeadLetter(_ context.Context, d Delivery, cause error) error {
	f.refs = append(f.refs, d.Ref)
	f.causes = append(f.causes, cause)
	return nil
}

func delivery(ref string, rec RawRecord) Delivery {
	rec.Ref = ref
	return Delivery{Ref: ref, Record: rec}
}

func TestStreamDriver_ContinuesPastBadMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := fullRaw("")
	bad.Fields[FieldPackageID] = "abc"

	sub := &fakeSubscriber{
		cancel: cancel,
		queue: []Delivery{
			delivery("t/0@1", fullRaw("")),
			{Ref: "t/0@2", Payload: []byte("not json"), Err: errors.New("invalid character")},
			delivery("t/0@3", bad),
			delivery("t/0@4", fullRaw("")),
		},
	}
	up := &recordingUpserter{}
	dl := &fakeDeadLetter{}

	err := NewStreamDriver(sub, up, StreamOptions{DeadLetter: dl}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"t/0@1", "t/0@2", "t/0@3", "t/0@4"}, sub.acked)
	assert.Len(t, up.calls, 2, "only valid messages reach the store")
	for _, rows := range up.calls {
		assert.Len(t, rows.Packages, 1)
		assert.Len(t, rows.Events, 1)
	}

	assert.Equal(t, []string{"t/0@2", "t/0@3"}, dl.refs)
	assert.ErrorIs(t, dl.causes[0], ErrMalformedPayload)
	assert.ErrorIs(t, dl.causes[1], ErrInvalidPackageID)
}

func TestStreamDriver_LoadFailureAdvances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := &fakeSubscriber{cancel: cancel, queue: []Delivery{delivery("t/0@1", fullRaw(""))}}
	up := &recordingUpserter{err: errors.New("deadlock detected")}
	dl := &fakeDeadLetter{}

	require.NoError(t, NewStreamDriver(sub, up, StreamOptions{DeadLetter: dl}).Run(ctx))

	assert.Equal(t, []string{"t/0@1"}, sub.acked)
	require.Len(t, dl.causes, 1)
	assert.ErrorIs(t, dl.causes[0], ErrTransactionFailed)
}

func TestStreamDriver_RetriesFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := &fakeSubscriber{
		cancel:    cancel,
		fetchErrs: []error{errors.New("broker not available"), errors.New("broker not available")},
		queue:     []Delivery{delivery("t/0@1", fullRaw(""))},
	}
	up := &recordingUpserter{}

	d := NewStreamDriver(sub, up, StreamOptions{FetchRetryMax: 5 * time.Second})
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"t/0@1"}, sub.acked)
}

func TestStreamDriver_GivesUpAfterRetryWindow(t *testing.T) {
	sub := &fakeSubscriber{cancel: func() {}}
	for i := 0; i < 100; i++ {
		sub.fetchErrs = append(sub.fetchErrs, errors.New("broker not available"))
	}

	d := NewStreamDriver(sub, &recordingUpserter{}, StreamOptions{FetchRetryMax: 300 * time.Millisecond})
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker not available")
}

// blockingUpserter waits for ctx, standing in for a load cut short by shutdown.
type blockingUpserter struct{ cancel context.CancelFunc }

func (u blockingUpserter) Upsert(ctx context.Context, _ RowSet) (LoadResult, error) {
	u.cancel()
	<-ctx.Done()
	return LoadResult{}, ctx.Err()
}

func TestStreamDriver_InterruptedLoadIsNotAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := &fakeSubscriber{cancel: cancel, queue: []Delivery{delivery("t/0@1", fullRaw(""))}}
	dl := &fakeDeadLetter{}

	require.NoError(t, NewStreamDriver(sub, blockingUpserter{cancel: cancel}, StreamOptions{DeadLetter: dl}).Run(ctx))
	assert.Empty(t, sub.acked)
	assert.Empty(t, dl.refs)
}

func TestStreamDriver_HandleReport(t *testing.T) {
	d := NewStreamDriver(nil, &recordingUpserter{}, StreamOptions{})

	report := d.Handle(context.Background(), delivery("t/1@7", fullRaw("")))
	assert.Equal(t, PhaseLoaded, report.Phase)
	assert.Equal(t, ModeStream, report.Mode)
	assert.Equal(t, "t/1@7", report.RunID)
	assert.Equal(t, 1, report.Packages)
	assert.Equal(t, 1, report.Events)

	shape := d.Handle(context.Background(), Delivery{Ref: "t/1@8", Err: errors.New("EOF")})
	assert.Equal(t, PhaseRejected, shape.Phase)
	require.Len(t, shape.Rejections, 1)
	assert.Equal(t, "malformed_payload", shape.Rejections[0].Reason())
}
