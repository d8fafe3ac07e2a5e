// Package queue serializes analysis calls against a rate-limited API.
//
// One task runs at a time. A dispatch starts no sooner than MinDelay after
// the previous task finished.
// Tasks failing with a rate-limit error are retried with exponential
// backoff plus jitter and re-enter the queue ahead of newer work.
package queue

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/metrics"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

// Task is one unit of work. ctx is the submitter's context.
type Task func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type item struct {
	ctx        context.Context
	task       Task
	attempt    int
	onProgress models.ProgressFunc
	done       chan result
}

func (it *item) finish(value any, err error) {
	select {
	case it.done <- result{value: value, err: err}:
	default:
	}
}

// Status is a snapshot of the queue.
type Status struct {
	QueueLength int  `json:"queueLength"`
	Draining    bool `json:"isProcessing"`
	InFlight    int  `json:"currentRequests"`
}

type Queue struct {
	config  models.QueueConfig
	limiter *rate.Limiter
	jitter  func() time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  []*item
	draining bool
	inFlight int
	closed   bool
}

type Option func(*Queue)

// WithJitter replaces the random jitter source.
func WithJitter(fn func() time.Duration) Option {
	return func(q *Queue) { q.jitter = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

func New(config models.QueueConfig, logger *zap.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	limit := rate.Inf
	if config.MinDelay > 0 {
		limit = rate.Every(config.MinDelay)
	}

	q := &Queue{
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	q.jitter = func() time.Duration {
		if q.config.MaxJitter <= 0 {
			return 0
		}
		return rand.N(q.config.MaxJitter)
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = metrics.New(nil)
	}
	return q
}

// BackoffDelay is the wait before retry number attempt, without jitter:
// min(base * 2^attempt, limit).
func BackoffDelay(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// Submit enqueues task and blocks until it completes, fails terminally, or
// ctx is done. A task whose ctx is done before dispatch is never run.
func (q *Queue) Submit(ctx context.Context, task Task, onProgress models.ProgressFunc) (any, error) {
	it := &item{
		ctx:        ctx,
		task:       task,
		onProgress: onProgress,
		done:       make(chan result, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, apperrors.ErrQueueClosed
	}
	q.pending = append(q.pending, it)
	position := len(q.pending) + q.inFlight
	start := !q.draining
	q.draining = true
	q.metrics.QueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	onProgress.Notify(models.ProgressEvent{
		Status:  models.StatusQueued,
		Total:   position,
		Message: fmt.Sprintf("queued at position %d", position),
	})

	if start {
		go q.drain()
	}

	select {
	case r := <-it.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do is Submit with a typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error), onProgress models.ProgressFunc) (T, error) {
	v, err := q.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, onProgress)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		QueueLength: len(q.pending),
		Draining:    q.draining,
		InFlight:    q.inFlight,
	}
}

// Close rejects pending items and refuses new ones. The task in flight, if
// any, runs to completion.
func (q *Queue) Close() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.closed = true
	q.metrics.QueueDepth.Set(0)
	q.mu.Unlock()

	for _, it := range pending {
		it.finish(nil, apperrors.ErrQueueClosed)
	}
}

// drain runs until the pending list is empty. Only one drain runs at a time.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight = 1
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
		q.mu.Unlock()

		q.dispatch(it)

		q.mu.Lock()
		q.inFlight = 0
		q.mu.Unlock()
	}
}

func (q *Queue) dispatch(it *item) {
	if err := it.ctx.Err(); err != nil {
		it.finish(nil, err)
		return
	}

	if wait := q.throttle(time.Now()); wait > 0 {
		it.onProgress.Notify(models.ProgressEvent{
			Status:  models.StatusThrottling,
			Attempt: it.attempt + 1,
			Message: fmt.Sprintf("waiting %s before next request", wait.Round(time.Millisecond)),
		})
		if err := sleep(it.ctx, wait); err != nil {
			it.finish(nil, err)
			return
		}
	}

	it.onProgress.Notify(models.ProgressEvent{
		Status:  models.StatusAnalyzing,
		Attempt: it.attempt + 1,
		Total:   q.config.MaxAttempts,
		Message: "analyzing",
	})
	q.metrics.Dispatches.Inc()

	value, err := it.task(it.ctx)
	q.limiter.ReserveN(time.Now(), 1)
	if err == nil {
		it.finish(value, nil)
		return
	}

	if !apperrors.IsKind(err, apperrors.KindRateLimit) {
		it.finish(nil, err)
		return
	}

	it.attempt++
	if it.attempt >= q.config.MaxAttempts {
		q.logger.Error("Request failed, rate limit attempts exhausted",
			zap.Int("attempt", it.attempt),
			zap.Error(err))
		it.finish(nil, apperrors.Exhausted(it.attempt, err))
		return
	}

	delay := BackoffDelay(it.attempt, q.config.BaseDelay, q.config.MaxDelay) + q.jitter()
	q.logger.Warn("Rate limit hit, retrying",
		zap.Int("attempt", it.attempt),
		zap.Int("max_attempts", q.config.MaxAttempts),
		zap.Duration("delay", delay))
	it.onProgress.Notify(models.ProgressEvent{
		Status:  models.StatusRetrying,
		Attempt: it.attempt,
		Total:   q.config.MaxAttempts,
		Message: fmt.Sprintf("rate limited, retrying in %s", delay.Round(time.Millisecond)),
	})
	q.metrics.Retries.Inc()

	if err := sleep(it.ctx, delay); err != nil {
		it.finish(nil, err)
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		it.finish(nil, apperrors.ErrQueueClosed)
		return
	}
	q.pending = append([]*item{it}, q.pending...)
	q.metrics.QueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()
}

// throttle is the wait before the next dispatch. The limiter is charged when
// a task finishes, so the wait counts from the end of the previous task.
func (q *Queue) throttle(now time.Time) time.Duration {
	if q.config.MinDelay <= 0 {
		return 0
	}
	tokens := q.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration(math.Ceil((1 - tokens) * float64(q.config.MinDelay)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
