package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

func fastConfig() models.QueueConfig {
	return models.QueueConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    16 * time.Millisecond,
		MaxAttempts: 5,
	}
}

func newTestQueue(config models.QueueConfig) *Queue {
	return New(config, zap.NewNop(), WithJitter(func() time.Duration { return 0 }))
}

func waitPending(t *testing.T, q *Queue, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return q.Status().QueueLength == n }, time.Second, time.Millisecond)
}

func TestQueueRunsOneTaskAtATime(t *testing.T) {
	q := newTestQueue(fastConfig())

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Do(context.Background(), q, func(ctx context.Context) (int, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return i, nil
			}, nil)
			assert.NoError(t, err)
			assert.Equal(t, i, v)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.Eventually(t, func() bool { return !q.Status().Draining }, time.Second, time.Millisecond)
}

func TestQueueDispatchesInSubmitOrder(t *testing.T) {
	q := newTestQueue(fastConfig())

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	record := func(name string) Task {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Submit(context.Background(), func(ctx context.Context) (any, error) {
			<-gate
			return record("first")(ctx)
		}, nil)
	}()
	require.Eventually(t, func() bool { return q.Status().InFlight == 1 }, time.Second, time.Millisecond)

	for i, name := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _ = q.Submit(context.Background(), record(name), nil)
		}(name)
		waitPending(t, q, i+1)
	}

	close(gate)
	wg.Wait()
	assert.Equal(t, []string{"first", "a", "b", "c"}, order)
}

func TestQueueRetriedItemJumpsAhead(t *testing.T) {
	q := newTestQueue(fastConfig())

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
			record("a")
			if atomic.AddInt32(&calls, 1) == 1 {
				<-gate
				return nil, apperrors.RateLimited(429, "quota")
			}
			return "ok", nil
		}, nil)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return q.Status().InFlight == 1 }, time.Second, time.Millisecond)

	for i, name := range []string{"b", "c"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
				record(name)
				return nil, nil
			}, nil)
			assert.NoError(t, err)
		}(name)
		waitPending(t, q, i+1)
	}

	close(gate)
	wg.Wait()
	assert.Equal(t, []string{"a", "a", "b", "c"}, order)
}

func TestQueueRateLimitExhaustsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(fastConfig())

	var calls int32
	var events []models.ProgressEvent
	_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, apperrors.RateLimited(429, "Resource has been exhausted")
	}, func(ev models.ProgressEvent) {
		events = append(events, ev)
	})

	require.Error(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.True(t, apperrors.IsKind(err, apperrors.KindExhausted))
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 5, appErr.Attempt)

	retries := 0
	for _, ev := range events {
		if ev.Status == models.StatusRetrying {
			retries++
		}
	}
	assert.Equal(t, 4, retries)
	assert.Equal(t, models.StatusQueued, events[0].Status)
}

func TestQueueDoesNotRetryOtherErrors(t *testing.T) {
	q := newTestQueue(fastConfig())

	fatal := apperrors.Upstream(400, "API key not valid")
	var calls int32
	_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fatal
	}, nil)

	assert.Same(t, fatal, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	timeout := apperrors.Timeout(context.DeadlineExceeded)
	_, err = q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, timeout
	}, nil)
	assert.Same(t, timeout, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueueEnforcesMinimumSpacing(t *testing.T) {
	config := fastConfig()
	config.MinDelay = 30 * time.Millisecond
	q := newTestQueue(config)

	var starts []time.Time
	for i := 0; i < 3; i++ {
		_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
			starts = append(starts, time.Now())
			return nil, nil
		}, nil)
		require.NoError(t, err)
	}

	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 25*time.Millisecond)
	}
}

func TestQueueSpacingCountsFromCompletion(t *testing.T) {
	config := fastConfig()
	config.MinDelay = 60 * time.Millisecond
	q := newTestQueue(config)

	var (
		mu        sync.Mutex
		firstDone time.Time
		started   = make(chan struct{})
	)
	go func() {
		_, _ = q.Submit(context.Background(), func(ctx context.Context) (any, error) {
			close(started)
			// longer than MinDelay
			time.Sleep(100 * time.Millisecond)
			mu.Lock()
			firstDone = time.Now()
			mu.Unlock()
			return nil, nil
		}, nil)
	}()
	<-started

	var secondStart time.Time
	_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
		secondStart = time.Now()
		return nil, nil
	}, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, firstDone.IsZero())
	assert.GreaterOrEqual(t, secondStart.Sub(firstDone), 55*time.Millisecond)
}

func TestQueueSkipsCancelledItems(t *testing.T) {
	q := newTestQueue(fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	_, err := q.Submit(ctx, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	require.Eventually(t, func() bool { return !q.Status().Draining }, time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestQueueCloseRejectsPending(t *testing.T) {
	q := newTestQueue(fastConfig())

	gate := make(chan struct{})
	go func() {
		_, _ = q.Submit(context.Background(), func(ctx context.Context) (any, error) {
			<-gate
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return q.Status().InFlight == 1 }, time.Second, time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) {
			return nil, nil
		}, nil)
		errCh <- err
	}()
	waitPending(t, q, 1)

	q.Close()
	assert.ErrorIs(t, <-errCh, apperrors.ErrQueueClosed)

	_, err := q.Submit(context.Background(), func(ctx context.Context) (any, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, apperrors.ErrQueueClosed)
	close(gate)
}

func TestBackoffDelay(t *testing.T) {
	base, limit := time.Second, 16*time.Second

	assert.Equal(t, 2*time.Second, BackoffDelay(1, base, limit))
	assert.Equal(t, 4*time.Second, BackoffDelay(2, base, limit))
	assert.Equal(t, 16*time.Second, BackoffDelay(4, base, limit))
	assert.Equal(t, 16*time.Second, BackoffDelay(60, base, limit))

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := BackoffDelay(attempt, base, limit)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, limit)
		prev = d
	}
}
