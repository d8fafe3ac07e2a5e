package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

func item(name, qty, price, total string) models.LineItem {
	return models.LineItem{
		Name:           name,
		Quantity:       decimal.RequireFromString(qty),
		UnitPriceExVat: decimal.RequireFromString(price),
		TotalExVat:     decimal.RequireFromString(total),
	}
}

func TestTotalsValidatorAcceptsTotalWithVat(t *testing.T) {
	inv := &models.ExtractedInvoice{
		DocumentNumber: "0123456789012",
		TotalAmount:    "236.00",
		LineItems: []models.LineItem{
			item("עגבניות", "2", "50", "100"),
			item("מלפפון", "1", "100", "100"),
		},
	}

	result := NewTotalsValidator().Validate(inv)
	assert.False(t, result.NeedsReview)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "200.00", result.Computed.LinesExVat)
	assert.Equal(t, "36.00", result.Computed.VatExpected)
	assert.Equal(t, "236.00", result.Computed.TotalExpected)
}

func TestTotalsValidatorAcceptsTotalWithoutVat(t *testing.T) {
	inv := &models.ExtractedInvoice{
		TotalAmount: "201.00",
		LineItems:   []models.LineItem{item("a", "1", "200", "200")},
	}
	assert.False(t, NewTotalsValidator().Validate(inv).NeedsReview)
}

func TestTotalsValidatorFlagsMismatch(t *testing.T) {
	inv := &models.ExtractedInvoice{
		TotalAmount: "500.00",
		LineItems:   []models.LineItem{item("a", "1", "200", "200")},
	}

	result := NewTotalsValidator().Validate(inv)
	assert.True(t, result.NeedsReview)
	if assert.Len(t, result.Warnings, 1) {
		assert.Equal(t, "total_mismatch", result.Warnings[0].Code)
		assert.Equal(t, "totalAmount", result.Warnings[0].Field)
	}
	assert.Len(t, result.Messages(), 1)
}

func TestTotalsValidatorCreditInvoiceUsesMagnitude(t *testing.T) {
	inv := &models.ExtractedInvoice{
		TotalAmount: "-118.00",
		LineItems:   []models.LineItem{item("a", "1", "100", "100")},
	}
	assert.False(t, NewTotalsValidator().Validate(inv).NeedsReview)
}

func TestTotalsValidatorFlagsLineArithmetic(t *testing.T) {
	inv := &models.ExtractedInvoice{
		TotalAmount: "354.00",
		LineItems:   []models.LineItem{item("a", "3", "10", "300")},
	}

	result := NewTotalsValidator().Validate(inv)
	if assert.NotEmpty(t, result.Warnings) {
		assert.Equal(t, "line_amount_mismatch", result.Warnings[0].Code)
		assert.Equal(t, "lineItems[0]", result.Warnings[0].Field)
	}
}

func TestTotalsValidatorSkipsWithoutLines(t *testing.T) {
	inv := &models.ExtractedInvoice{TotalAmount: "99.90", DocumentNumber: "12345"}
	result := NewTotalsValidator().Validate(inv)
	assert.False(t, result.NeedsReview)
	assert.Equal(t, "99.90", result.Computed.TotalDeclared)
}

func TestTotalsValidatorDocumentNumberFormat(t *testing.T) {
	inv := &models.ExtractedInvoice{DocumentNumber: "INV-12/4"}
	result := NewTotalsValidator().Validate(inv)
	if assert.Len(t, result.Warnings, 1) {
		assert.Equal(t, "document_number_format", result.Warnings[0].Code)
	}
}
