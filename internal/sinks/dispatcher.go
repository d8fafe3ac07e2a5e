package sinks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/facturaIA/invoice-scanner/internal/metrics"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

const (
	LedgerSink   = "ledger"
	ProductsSink = "products"
)

// DeliveryStatus is the per-sink outcome of a submission
type DeliveryStatus string

const (
	DeliverySent     DeliveryStatus = "sent"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliverySkipped  DeliveryStatus = "skipped"
	DeliveryDisabled DeliveryStatus = "disabled"
)

type Result struct {
	Ledger   DeliveryStatus `json:"ledger"`
	Products DeliveryStatus `json:"products"`
}

// Dispatcher sends an invoice to the ledger sink, then its line items to the
// products sink. A sink with no URL is disabled.
type Dispatcher struct {
	ledger   *Webhook
	products *Webhook
	registry *suppliers.Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(config models.SinksConfig, registry *suppliers.Registry, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
	if config.LedgerURL != "" {
		d.ledger = NewWebhook(LedgerSink, config.LedgerURL, config, logger, m)
	}
	if config.ProductsURL != "" {
		d.products = NewWebhook(ProductsSink, config.ProductsURL, config, logger, m)
	}
	return d
}

// Enabled reports whether at least one sink is configured.
func (d *Dispatcher) Enabled() bool {
	return d.ledger != nil || d.products != nil
}

// Submit delivers inv to both sinks. Failures are joined into one error whose
// parts are KindSink AppErrors; the invoice itself is left untouched so the
// caller can resubmit it.
func (d *Dispatcher) Submit(ctx context.Context, scanID string, inv *models.ExtractedInvoice) (Result, error) {
	now := d.now()
	result := Result{Ledger: DeliveryDisabled, Products: DeliveryDisabled}

	var ledgerErr, productsErr error
	if d.ledger != nil {
		ledgerErr = d.ledger.Post(ctx, NewLedgerPayload(d.registry, scanID, inv, now))
		result.Ledger = status(ledgerErr)
	}

	if d.products != nil {
		if len(inv.LineItems) == 0 {
			result.Products = DeliverySkipped
		} else {
			productsErr = d.products.Post(ctx, NewProductsPayload(d.registry, scanID, inv, now))
			result.Products = status(productsErr)
		}
	}

	d.logger.Info("Invoice submitted",
		zap.String("scan_id", scanID),
		zap.String("ledger", string(result.Ledger)),
		zap.String("products", string(result.Products)))

	return result, errors.Join(ledgerErr, productsErr)
}

func status(err error) DeliveryStatus {
	if err != nil {
		return DeliveryFailed
	}
	return DeliverySent
}
