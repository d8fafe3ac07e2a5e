package normalizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

// Rule applies one business correction to a decoded invoice.
type Rule func(models.ExtractedInvoice) models.ExtractedInvoice

// otherFloor is the minimum supplier confidence of a document left in "other".
const otherFloor = 75

// ResolveSupplier settles the supplier category and canonical name.
//
// A priority match always wins. A declared chain category is confirmed
// against the registry. Anything still unresolved is retried against the
// priority list with fallbackThreshold, then against the categories, and
// otherwise lands in "other".
func ResolveSupplier(m *suppliers.Matcher, fallbackThreshold float64) Rule {
	return func(inv models.ExtractedInvoice) models.ExtractedInvoice {
		if match := m.FindPriorityMatch(inv.SupplierName); match.Matched {
			inv.SupplierCategory = models.CategoryPriority
			inv.SupplierName = match.Supplier
			inv.SupplierConfidence = max(inv.SupplierConfidence, match.Confidence)
			return inv
		}

		switch inv.SupplierCategory {
		case models.CategoryFuelStation, models.CategorySupermarket, models.CategoryNursery:
			if match := m.FindCategoryMatch(inv.SupplierName); match.Matched {
				if match.Supplier != "" {
					inv.SupplierName = match.Supplier
				}
				inv.SupplierConfidence = max(inv.SupplierConfidence, match.Confidence)
			}
			return inv
		}

		// "other", missing, or a priority claim the registry cannot back
		if match := m.FindPriorityMatchAbove(inv.SupplierName, fallbackThreshold); match.Matched && match.Confidence > int(math.Round(fallbackThreshold*100)) {
			inv.SupplierCategory = models.CategoryPriority
			inv.SupplierName = match.Supplier
			inv.SupplierConfidence = match.Confidence
			return inv
		}
		if match := m.FindCategoryMatch(inv.SupplierName); match.Matched {
			inv.SupplierCategory = match.Category
			if match.Supplier != "" {
				inv.SupplierName = match.Supplier
			}
			inv.SupplierConfidence = match.Confidence
			return inv
		}

		inv.SupplierCategory = models.CategoryOther
		inv.SupplierConfidence = max(inv.SupplierConfidence, otherFloor)
		return inv
	}
}

// PriorityHasNoCard clears card data for priority suppliers.
func PriorityHasNoCard(inv models.ExtractedInvoice) models.ExtractedInvoice {
	if inv.SupplierCategory == models.CategoryPriority {
		inv.CreditCardLast4 = nil
		inv.CreditCardConfidence = 0
	}
	return inv
}

// SupermarketDocumentType turns supermarket delivery notes into invoices
// and flags supermarket documents without a card reference.
func SupermarketDocumentType(inv models.ExtractedInvoice) models.ExtractedInvoice {
	if inv.SupplierCategory != models.CategorySupermarket {
		return inv
	}
	if inv.DocumentType == models.DocumentDeliveryNote {
		inv.DocumentType = models.DocumentInvoice
	}
	if inv.CreditCardLast4 == nil {
		inv.Warnings = append(inv.Warnings, "supermarket invoice without credit card reference")
	}
	return inv
}

// CreditInvoiceSign makes credit invoice totals negative and marks their
// notes. Other documents get a non-negative total.
func CreditInvoiceSign(inv models.ExtractedInvoice) models.ExtractedInvoice {
	amount, err := decimal.NewFromString(inv.TotalAmount)
	hasAmount := inv.TotalAmount != "" && err == nil

	if inv.DocumentType != models.DocumentCreditInvoice {
		if hasAmount && amount.IsNegative() {
			inv.TotalAmount = formatAmount(amount.Abs())
			inv.Warnings = append(inv.Warnings, fmt.Sprintf("negative total on %s, sign dropped", inv.DocumentType))
		}
		return inv
	}

	if hasAmount && amount.IsPositive() {
		inv.TotalAmount = formatAmount(amount.Neg())
	}
	if !strings.Contains(inv.Notes, models.CreditMarker) {
		if inv.Notes == "" {
			inv.Notes = models.CreditMarker
		} else {
			inv.Notes = inv.Notes + " - " + models.CreditMarker
		}
	}
	return inv
}

// ClampConfidences bounds every confidence to [0,100].
func ClampConfidences(inv models.ExtractedInvoice) models.ExtractedInvoice {
	for _, c := range []*int{
		&inv.SupplierConfidence,
		&inv.DocumentNumberConfidence,
		&inv.DateConfidence,
		&inv.TotalConfidence,
		&inv.CreditCardConfidence,
	} {
		*c = min(max(*c, 0), 100)
	}
	return inv
}
