package sinks

import (
	"time"

	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

// Confidences groups the per-field scores shown next to a ledger row
type Confidences struct {
	Supplier int `json:"supplier"`
	Document int `json:"document"`
	Date     int `json:"date"`
	Amount   int `json:"amount"`
	Card     int `json:"card"`
}

// LedgerPayload is one summary row of the ledger sheet
type LedgerPayload struct {
	Timestamp        string      `json:"timestamp"`
	ScanID           string      `json:"scan_id,omitempty"`
	SupplierCategory string      `json:"supplier_category"`
	SupplierName     string      `json:"supplier_name"`
	DocumentNumber   string      `json:"document_number"`
	DocumentType     string      `json:"document_type"`
	DocumentDate     string      `json:"document_date"`
	TotalAmount      string      `json:"total_amount"`
	CreditCardLast4  string      `json:"credit_card_last4"`
	Notes            string      `json:"notes"`
	Confidences      Confidences `json:"confidences"`
}

// ProductRow is one line item of the products sheet
type ProductRow struct {
	Name           string `json:"name"`
	Quantity       string `json:"quantity"`
	Unit           string `json:"unit"`
	UnitPriceExVat string `json:"unit_price_ex_vat"`
	TotalExVat     string `json:"total_ex_vat"`
}

// ProductsPayload carries the document header and its line items
type ProductsPayload struct {
	Timestamp        string       `json:"timestamp"`
	ScanID           string       `json:"scan_id,omitempty"`
	SupplierCategory string       `json:"supplier_category"`
	SupplierName     string       `json:"supplier_name"`
	DocumentNumber   string       `json:"document_number"`
	DocumentType     string       `json:"document_type"`
	DocumentDate     string       `json:"document_date"`
	Products         []ProductRow `json:"products"`
}

// DocumentTypeDisplayName returns the Hebrew label of a document type.
func DocumentTypeDisplayName(t models.DocumentType) string {
	switch t {
	case models.DocumentDeliveryNote:
		return "תעודת משלוח"
	case models.DocumentCreditInvoice:
		return models.CreditMarker
	default:
		return "חשבונית מס"
	}
}

func NewLedgerPayload(reg *suppliers.Registry, scanID string, inv *models.ExtractedInvoice, now time.Time) LedgerPayload {
	card := ""
	if inv.CreditCardLast4 != nil {
		card = *inv.CreditCardLast4
	}
	return LedgerPayload{
		Timestamp:        now.UTC().Format(time.RFC3339),
		ScanID:           scanID,
		SupplierCategory: reg.DisplayName(inv.SupplierCategory),
		SupplierName:     inv.SupplierName,
		DocumentNumber:   inv.DocumentNumber,
		DocumentType:     DocumentTypeDisplayName(inv.DocumentType),
		DocumentDate:     inv.DocumentDate,
		TotalAmount:      inv.TotalAmount,
		CreditCardLast4:  card,
		Notes:            inv.Notes,
		Confidences: Confidences{
			Supplier: inv.SupplierConfidence,
			Document: inv.DocumentNumberConfidence,
			Date:     inv.DateConfidence,
			Amount:   inv.TotalConfidence,
			Card:     inv.CreditCardConfidence,
		},
	}
}

func NewProductsPayload(reg *suppliers.Registry, scanID string, inv *models.ExtractedInvoice, now time.Time) ProductsPayload {
	rows := make([]ProductRow, 0, len(inv.LineItems))
	for _, item := range inv.LineItems {
		rows = append(rows, ProductRow{
			Name:           item.Name,
			Quantity:       item.Quantity.String(),
			Unit:           item.Unit,
			UnitPriceExVat: item.UnitPriceExVat.StringFixed(2),
			TotalExVat:     item.TotalExVat.StringFixed(2),
		})
	}
	return ProductsPayload{
		Timestamp:        now.UTC().Format(time.RFC3339),
		ScanID:           scanID,
		SupplierCategory: reg.DisplayName(inv.SupplierCategory),
		SupplierName:     inv.SupplierName,
		DocumentNumber:   inv.DocumentNumber,
		DocumentType:     DocumentTypeDisplayName(inv.DocumentType),
		DocumentDate:     inv.DocumentDate,
		Products:         rows,
	}
}
