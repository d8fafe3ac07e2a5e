package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// ValidationWarning represents a non-critical issue
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ComputedValues holds calculated/expected values
type ComputedValues struct {
	LinesExVat    string `json:"linesExVat"`
	VatExpected   string `json:"vatExpected"`
	TotalExpected string `json:"totalExpected"`
	TotalDeclared string `json:"totalDeclared"`
}

// ValidationResult is the response from validation
type ValidationResult struct {
	NeedsReview bool                `json:"needsReview"`
	Warnings    []ValidationWarning `json:"warnings"`
	Computed    ComputedValues      `json:"computed"`
}

// Messages flattens the warnings for ExtractedInvoice.Warnings.
func (r *ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Message)
	}
	return out
}

var documentNumberPattern = regexp.MustCompile(`^[0-9]{1,15}$`)

// TotalsValidator cross-checks an extracted invoice's amounts
type TotalsValidator struct {
	tolerance decimal.Decimal // percentage tolerance (0.05 = 5%)
	vatRate   decimal.Decimal
}

// NewTotalsValidator creates a validator with 5% tolerance and 18% VAT
func NewTotalsValidator() *TotalsValidator {
	return &TotalsValidator{
		tolerance: decimal.RequireFromString("0.05"),
		vatRate:   decimal.RequireFromString("0.18"),
	}
}

// Validate never rejects an invoice; it only reports anomalies.
func (v *TotalsValidator) Validate(inv *models.ExtractedInvoice) *ValidationResult {
	result := &ValidationResult{Warnings: []ValidationWarning{}}

	declared, _ := decimal.NewFromString(inv.TotalAmount)
	declared = declared.Abs()
	result.Computed.TotalDeclared = declared.StringFixed(2)

	// 1. Each line: quantity x unit price vs line total
	v.validateLines(inv, result)

	// 2. Sum of lines vs declared total
	v.validateTotal(inv, result, declared)

	// 3. Document number shape
	v.validateDocumentNumber(inv, result)

	result.NeedsReview = len(result.Warnings) > 0
	return result
}

// validateLines checks quantity x unit price against each line total
func (v *TotalsValidator) validateLines(inv *models.ExtractedInvoice, result *ValidationResult) {
	for i, item := range inv.LineItems {
		if item.Quantity.IsZero() || item.UnitPriceExVat.IsZero() || item.TotalExVat.IsZero() {
			continue
		}
		expected := item.Quantity.Mul(item.UnitPriceExVat)
		if v.diverges(expected, item.TotalExVat) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   fmt.Sprintf("lineItems[%d]", i),
				Code:    "line_amount_mismatch",
				Message: fmt.Sprintf("line %q: %s x %s != %s", item.Name, item.Quantity, item.UnitPriceExVat.StringFixed(2), item.TotalExVat.StringFixed(2)),
			})
		}
	}
}

// validateTotal accepts the declared total if it matches the lines either
// with or without VAT
func (v *TotalsValidator) validateTotal(inv *models.ExtractedInvoice, result *ValidationResult, declared decimal.Decimal) {
	if len(inv.LineItems) == 0 {
		return
	}

	sum := decimal.Zero
	for _, item := range inv.LineItems {
		line := item.TotalExVat
		if line.IsZero() {
			line = item.Quantity.Mul(item.UnitPriceExVat)
		}
		sum = sum.Add(line.Abs())
	}
	vat := sum.Mul(v.vatRate)
	expected := sum.Add(vat)

	result.Computed.LinesExVat = sum.StringFixed(2)
	result.Computed.VatExpected = vat.StringFixed(2)
	result.Computed.TotalExpected = expected.StringFixed(2)

	if declared.IsZero() || sum.IsZero() {
		return
	}
	if !v.diverges(expected, declared) || !v.diverges(sum, declared) {
		return
	}
	result.Warnings = append(result.Warnings, ValidationWarning{
		Field:   "totalAmount",
		Code:    "total_mismatch",
		Message: fmt.Sprintf("line items sum to %s (%s with VAT), total is %s", sum.StringFixed(2), expected.StringFixed(2), declared.StringFixed(2)),
	})
}

// validateDocumentNumber flags numbers that are not plain digits
func (v *TotalsValidator) validateDocumentNumber(inv *models.ExtractedInvoice, result *ValidationResult) {
	number := strings.TrimSpace(inv.DocumentNumber)
	if number == "" || documentNumberPattern.MatchString(number) {
		return
	}
	result.Warnings = append(result.Warnings, ValidationWarning{
		Field:   "documentNumber",
		Code:    "document_number_format",
		Message: fmt.Sprintf("document number %q is not 1-15 digits", number),
	})
}

func (v *TotalsValidator) diverges(expected, actual decimal.Decimal) bool {
	base := actual.Abs()
	if base.IsZero() {
		base = expected.Abs()
	}
	return expected.Sub(actual).Abs().GreaterThan(base.Mul(v.tolerance))
}
