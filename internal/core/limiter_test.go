package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLimiter_TimesOutWhenFull(t *testing.T) {
	l := NewRunLimiter(1, 50*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	err := l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrTooManyRuns)
}

func TestRunLimiter_ContextCancellation(t *testing.T) {
	l := NewRunLimiter(1, 5*time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestRunLimiter_BoundsConcurrency(t *testing.T) {
	const limit = 2
	l := NewRunLimiter(limit, time.Second)

	var (
		wg      sync.WaitGroup
		active  atomic.Int32
		highest atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer l.Release()

			n := active.Add(1)
			for {
				h := highest.Load()
				if n <= h || highest.CompareAndSwap(h, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(highest.Load()), limit)
	assert.Zero(t, l.Active())
}

func TestRunLimiter_WaitForDrain(t *testing.T) {
	l := NewRunLimiter(2, time.Second)
	require.NoError(t, l.Acquire(context.Background()))

	done := make(chan error, 1)
	go func() { done <- l.WaitForDrain(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForDrain returned with a run active")
	case <-time.After(60 * time.Millisecond):
	}

	l.Release()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain did not return after release")
	}
}
