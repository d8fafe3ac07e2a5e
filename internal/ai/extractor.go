package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/metrics"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/normalizer"
	"github.com/facturaIA/invoice-scanner/internal/queue"
	"github.com/facturaIA/invoice-scanner/internal/services"
	"github.com/facturaIA/invoice-scanner/internal/usage"
)

// ExtractorConfig holds per-request parameters.
type ExtractorConfig struct {
	Prompt       string
	Generation   models.GenerationConfig
	CallAttempts int
}

// Extractor turns a document image into a normalized invoice. Calls go
// through the shared queue; timeouts are retried inside the queued task.
type Extractor struct {
	provider   Provider
	queue      *queue.Queue
	normalizer *normalizer.Normalizer
	validator  *services.TotalsValidator
	usage      usage.Counter
	config     ExtractorConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type ExtractorOption func(*Extractor)

// WithUsage records token usage for every successful scan.
func WithUsage(counter usage.Counter) ExtractorOption {
	return func(e *Extractor) { e.usage = counter }
}

func WithMetrics(m *metrics.Metrics) ExtractorOption {
	return func(e *Extractor) { e.metrics = m }
}

// NewExtractor creates a new extractor
func NewExtractor(provider Provider, q *queue.Queue, n *normalizer.Normalizer, config ExtractorConfig, logger *zap.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CallAttempts < 1 {
		config.CallAttempts = 1
	}
	e := &Extractor{
		provider:   provider,
		queue:      q,
		normalizer: n,
		validator:  services.NewTotalsValidator(),
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	return e
}

// Extract analyzes one image. onProgress may be nil.
func (e *Extractor) Extract(ctx context.Context, image models.ImageInput, onProgress models.ProgressFunc) (*models.ExtractedInvoice, error) {
	if len(image.Data) == 0 {
		return nil, apperrors.New(apperrors.ErrBadRequest.Code, apperrors.KindInput, "image is empty")
	}
	start := e.now()

	req := AnalysisRequest{
		Image:      image.Data,
		MIMEType:   image.MIMEType,
		Prompt:     e.config.Prompt,
		Generation: e.config.Generation,
	}
	result, err := queue.Do(ctx, e.queue, func(ctx context.Context) (*AnalysisResult, error) {
		return e.analyze(ctx, req, onProgress)
	}, onProgress)
	if err != nil {
		return nil, e.fail(image, err, onProgress)
	}

	onProgress.Notify(models.ProgressEvent{Status: models.StatusProcessing, Message: "processing analysis output"})

	inv, err := e.normalizer.Normalize(result.Text)
	if err != nil {
		e.logger.Debug("Unparsable analysis output", zap.String("raw", result.Text))
		return nil, e.fail(image, err, onProgress)
	}
	inv.Usage = result.Usage

	if check := e.validator.Validate(inv); check.NeedsReview {
		inv.Warnings = append(inv.Warnings, check.Messages()...)
	}

	if inv.Usage != nil {
		e.metrics.Tokens.WithLabelValues("prompt").Add(float64(inv.Usage.PromptTokenCount))
		e.metrics.Tokens.WithLabelValues("candidates").Add(float64(inv.Usage.CandidatesTokenCount))
		if e.usage != nil {
			if err := e.usage.Add(ctx, e.now(), *inv.Usage); err != nil {
				e.logger.Warn("Failed to record token usage", zap.Error(err))
			}
		}
	}

	e.metrics.Scans.WithLabelValues("success").Inc()
	onProgress.Notify(models.ProgressEvent{Status: models.StatusSuccess, Message: "done"})

	avg := inv.AverageConfidence()
	e.logger.Info("Invoice extracted",
		zap.String("file", image.Filename),
		zap.String("supplier", inv.SupplierName),
		zap.String("category", string(inv.SupplierCategory)),
		zap.Int("avg_confidence", avg),
		zap.String("quality", string(models.Quality(avg))),
		zap.Int("line_items", len(inv.LineItems)),
		zap.Int("warnings", len(inv.Warnings)),
		zap.Duration("duration", e.now().Sub(start)))

	return inv, nil
}

// analyze runs up to CallAttempts provider calls, retrying only timeouts.
// Rate-limit errors are returned so the queue can back off.
func (e *Extractor) analyze(ctx context.Context, req AnalysisRequest, onProgress models.ProgressFunc) (*AnalysisResult, error) {
	var lastErr error
	for attempt := 1; attempt <= e.config.CallAttempts; attempt++ {
		start := e.now()
		result, err := e.provider.Analyze(ctx, req)
		e.metrics.CallDuration.WithLabelValues(outcome(err)).Observe(e.now().Sub(start).Seconds())
		if err == nil {
			return result, nil
		}
		if !apperrors.IsKind(err, apperrors.KindTimeout) {
			return nil, err
		}

		lastErr = err
		e.logger.Warn("Analysis call timed out",
			zap.String("provider", e.provider.Name()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.config.CallAttempts))
		onProgress.Notify(models.ProgressEvent{
			Status:  models.StatusTimeout,
			Attempt: attempt,
			Total:   e.config.CallAttempts,
			Message: fmt.Sprintf("request timed out (attempt %d/%d)", attempt, e.config.CallAttempts),
		})
	}
	return nil, apperrors.Exhausted(e.config.CallAttempts, lastErr)
}

func (e *Extractor) fail(image models.ImageInput, err error, onProgress models.ProgressFunc) error {
	e.metrics.Scans.WithLabelValues("failed").Inc()
	e.logger.Error("Invoice extraction failed",
		zap.String("file", image.Filename),
		zap.String("kind", string(apperrors.KindOf(err))),
		zap.Error(err))
	onProgress.Notify(models.ProgressEvent{Status: models.StatusFailed, Message: err.Error()})
	return err
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := apperrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
