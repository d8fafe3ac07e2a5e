// Package sinks delivers reviewed invoices to the spreadsheet webhooks.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/metrics"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

// Webhook posts JSON payloads to one endpoint. A POST that returns without
// a transport error counts as delivered whatever its status code.
type Webhook struct {
	name       string
	url        string
	attempts   int
	retryDelay time.Duration
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[int]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewWebhook(name, url string, config models.SinksConfig, logger *zap.Logger, m *metrics.Metrics) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	failures := config.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	w := &Webhook{
		name:       name,
		url:        url,
		attempts:   config.Attempts,
		retryDelay: config.RetryDelay,
		client:     &http.Client{Timeout: config.Timeout},
		logger:     logger.With(zap.String("sink", name)),
		metrics:    m,
	}
	w.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    name,
		Timeout: config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("Sink circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return w
}

func (w *Webhook) Name() string { return w.name }

// Post delivers payload, retrying transport failures with a linearly growing
// delay (attempt x RetryDelay). An open breaker fails immediately.
func (w *Webhook) Post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSinkDelivery.Code, apperrors.KindSink, "failed to encode payload")
	}

	var (
		lastErr error
		tried   int
	)
	for attempt := 1; attempt <= w.attempts; attempt++ {
		tried = attempt
		status, err := w.breaker.Execute(func() (int, error) {
			return w.post(ctx, body)
		})
		if err == nil {
			w.metrics.Deliveries.WithLabelValues(w.name, "sent").Inc()
			w.logger.Info("Delivered to sink",
				zap.Int("status", status),
				zap.Int("attempt", attempt),
				zap.Int("bytes", len(body)))
			return nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			w.metrics.Deliveries.WithLabelValues(w.name, "rejected").Inc()
			return apperrors.SinkDelivery(w.name, attempt, err)
		}
		if ctx.Err() != nil {
			break
		}

		w.logger.Warn("Sink delivery failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.attempts),
			zap.Error(err))

		if attempt < w.attempts {
			if err := sleep(ctx, time.Duration(attempt)*w.retryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}

	w.metrics.Deliveries.WithLabelValues(w.name, "failed").Inc()
	return apperrors.SinkDelivery(w.name, tried, lastErr)
}

func (w *Webhook) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Warn("Sink answered with an error status", zap.Int("status", resp.StatusCode))
	}
	return resp.StatusCode, nil
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
