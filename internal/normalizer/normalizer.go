// Package normalizer turns raw analysis output into a validated ExtractedInvoice.
//
// The pipeline runs fence stripping, object extraction, truncation repair,
// decoding, line-item deduplication and the business rules, in that order.
// Structural failures are reported as parse errors tagged with the stage
// that failed; they are never retried.
package normalizer

import (
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

const (
	StageBoundary = "boundary"
	StageRepair   = "repair"
	StageDecode   = "decode"
)

type Normalizer struct {
	rules  []Rule
	logger *zap.Logger
}

// New builds a normalizer with the standard rule set.
func New(matcher *suppliers.Matcher, config models.MatchConfig, logger *zap.Logger) *Normalizer {
	return NewWithRules(logger,
		ResolveSupplier(matcher, config.FallbackThreshold),
		PriorityHasNoCard,
		SupermarketDocumentType,
		CreditInvoiceSign,
		ClampConfidences,
	)
}

// NewWithRules builds a normalizer applying rules in the given order.
func NewWithRules(logger *zap.Logger, rules ...Rule) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{rules: rules, logger: logger}
}

// Normalize runs the full pipeline over raw model output.
func (n *Normalizer) Normalize(raw string) (*models.ExtractedInvoice, error) {
	span, complete, err := ExtractSpan(StripFences(raw))
	if err != nil {
		return nil, apperrors.Parse(StageBoundary, err)
	}

	if !complete {
		repaired, err := RepairTruncated(span)
		if err != nil {
			return nil, apperrors.Parse(StageRepair, err)
		}
		n.logger.Warn("Repaired truncated analysis output",
			zap.Int("original_len", len(span)),
			zap.Int("repaired_len", len(repaired)))
		span = repaired
	}

	inv, err := Decode(span)
	if err != nil {
		return nil, apperrors.Parse(StageDecode, err)
	}
	if !complete {
		inv.Warnings = append(inv.Warnings, "output was truncated and repaired")
	}

	before := len(inv.LineItems)
	inv.LineItems = DedupeLineItems(inv.LineItems)
	if merged := before - len(inv.LineItems); merged > 0 {
		n.logger.Debug("Merged duplicate line items", zap.Int("removed", merged))
	}

	if inv.LineItems == nil {
		inv.LineItems = []models.LineItem{}
	}

	for _, rule := range n.rules {
		inv = rule(inv)
	}

	for _, w := range inv.Warnings {
		n.logger.Warn("Invoice anomaly",
			zap.String("supplier", inv.SupplierName),
			zap.String("warning", w))
	}
	return &inv, nil
}
