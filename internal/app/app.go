// Package app wires the scanning pipeline from a configuration.
package app

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/facturaIA/invoice-scanner/internal/ai"
	"github.com/facturaIA/invoice-scanner/internal/db"
	"github.com/facturaIA/invoice-scanner/internal/metrics"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/normalizer"
	"github.com/facturaIA/invoice-scanner/internal/queue"
	"github.com/facturaIA/invoice-scanner/internal/sinks"
	"github.com/facturaIA/invoice-scanner/internal/storage"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
	"github.com/facturaIA/invoice-scanner/internal/usage"
)

// App holds the long-lived pipeline components. Store and Archive are nil
// when not configured.
type App struct {
	Config     *models.Config
	Registry   *suppliers.Registry
	Metrics    *metrics.Metrics
	Queue      *queue.Queue
	Extractor  *ai.Extractor
	Dispatcher *sinks.Dispatcher
	Usage      usage.Counter
	Store      *db.Store
	Archive    *storage.Archive

	provider ai.Provider
	logger   *zap.Logger
}

// Build creates every component. Database and object storage are optional:
// a failure to reach them is logged and the pipeline runs without them.
func Build(ctx context.Context, config *models.Config, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	registry, err := suppliers.Load(config.SupplierRegistry)
	if err != nil {
		return nil, err
	}

	prompt, err := ai.LoadPrompt(config.AI.PromptFile, registry)
	if err != nil {
		return nil, err
	}

	provider, err := ai.NewProvider(ctx, config.AI, logger.Named("ai"))
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   config,
		Registry: registry,
		Metrics:  metrics.New(reg),
		provider: provider,
		logger:   logger,
	}

	if config.Database.URL != "" {
		store, err := db.Open(ctx, config.Database.URL, logger.Named("db"))
		if err != nil {
			logger.Warn("Database not available, running without persistence", zap.Error(err))
		} else if err := store.Migrate(ctx); err != nil {
			logger.Warn("Database migration failed, running without persistence", zap.Error(err))
			store.Close()
		} else {
			a.Store = store
		}
	}

	if config.Storage.Endpoint != "" {
		archive, err := storage.New(ctx, config.Storage, logger.Named("storage"))
		if err != nil {
			logger.Warn("Object storage not available, images will not be stored", zap.Error(err))
		} else {
			a.Archive = archive
		}
	}

	if a.Store != nil {
		a.Usage = a.Store
	} else {
		a.Usage = usage.NewMemory()
	}

	a.Queue = queue.New(config.Queue, logger.Named("queue"), queue.WithMetrics(a.Metrics))

	matcher := suppliers.NewMatcher(registry, config.Matching)
	a.Extractor = ai.NewExtractor(
		provider,
		a.Queue,
		normalizer.New(matcher, config.Matching, logger.Named("normalizer")),
		ai.ExtractorConfig{
			Prompt:       prompt,
			Generation:   config.AI.Generation,
			CallAttempts: config.AI.CallAttempts,
		},
		logger.Named("extractor"),
		ai.WithUsage(a.Usage),
		ai.WithMetrics(a.Metrics),
	)

	a.Dispatcher = sinks.NewDispatcher(config.Sinks, registry, logger.Named("sinks"), a.Metrics)

	return a, nil
}

// ProviderName names the analysis backend in use
func (a *App) ProviderName() string {
	return a.provider.Name()
}

// Close stops the queue and releases connections
func (a *App) Close() {
	a.Queue.Close()
	if c, ok := a.provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("Failed to close AI client", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
