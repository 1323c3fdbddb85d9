package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/wrangler/internal/queue"
)

func TestDo_RunsOperation(t *testing.T) {
	q := queue.New()
	defer q.Shutdown()

	ran := false
	err := q.Do(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDo_DeliversOperationError(t *testing.T) {
	q := queue.New()
	defer q.Shutdown()

	boom := errors.New("boom")
	err := q.Do(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

// Concurrently submitted operations execute strictly one at a time and
// every submission completes.
func TestSubmit_SerializesWrites(t *testing.T) {
	q := queue.New()
	defer q.Shutdown()

	const n = 50
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	executed := 0

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				executed++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, executed)
	assert.Equal(t, 1, maxInFlight, "operations must never overlap")
}

func TestSubmit_FIFOOrder(t *testing.T) {
	q := queue.New()
	defer q.Shutdown()

	var mu sync.Mutex
	var order []int

	// Submissions from a single goroutine must execute in order.
	var chans []<-chan error
	for i := 0; i < 10; i++ {
		i := i
		chans = append(chans, q.Submit(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, ch := range chans {
		require.NoError(t, <-ch)
	}

	for i, v := range order {
		assert.Equal(t, i, v, "execution order must match submission order")
	}
}

func TestShutdown_DrainsPendingThenRejects(t *testing.T) {
	q := queue.New()

	var mu sync.Mutex
	executed := 0
	var chans []<-chan error
	for i := 0; i < 20; i++ {
		chans = append(chans, q.Submit(func() error {
			mu.Lock()
			executed++
			mu.Unlock()
			return nil
		}))
	}

	q.Shutdown()

	for _, ch := range chans {
		require.NoError(t, <-ch)
	}
	mu.Lock()
	assert.Equal(t, 20, executed, "everything enqueued before shutdown must run")
	mu.Unlock()

	err := <-q.Submit(func() error { return nil })
	assert.ErrorIs(t, err, queue.ErrNotRunning)
	assert.ErrorIs(t, q.Do(context.Background(), func() error { return nil }), queue.ErrNotRunning)
}

func TestStats_Counters(t *testing.T) {
	q := queue.New()

	require.NoError(t, q.Do(context.Background(), func() error { return nil }))
	_ = q.Do(context.Background(), func() error { return errors.New("x") })
	q.Shutdown()

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, 0, stats.Pending)
}

func TestDo_ContextCancelAbandonsWait(t *testing.T) {
	q := queue.New()
	defer q.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func() error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- q.Do(ctx, func() error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
	close(block)
}
