package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// field aliases, first match wins
var (
	keysSupplierCategory   = []string{"supplier_category", "supplierCategory", "category"}
	keysSupplierName       = []string{"supplier_name", "supplierName", "supplier", "vendor"}
	keysSupplierConfidence = []string{"supplier_confidence", "supplierConfidence"}
	keysDocumentNumber     = []string{"document_number", "documentNumber", "invoice_number"}
	keysDocumentNumberConf = []string{"document_number_confidence", "documentNumberConfidence"}
	keysDocumentType       = []string{"document_type", "documentType"}
	keysDocumentDate       = []string{"document_date", "documentDate", "date"}
	keysDateConfidence     = []string{"date_confidence", "dateConfidence"}
	keysTotalAmount        = []string{"total_amount", "totalAmount", "total"}
	keysTotalConfidence    = []string{"total_confidence", "totalConfidence"}
	keysCardLast4          = []string{"credit_card_last4", "creditCardLast4", "payment_last4"}
	keysCardConfidence     = []string{"credit_card_confidence", "creditCardConfidence"}
	keysNotes              = []string{"notes", "note"}
	keysLineItems          = []string{"products", "line_items", "lineItems", "items"}

	keysItemName      = []string{"name", "description", "product_name", "productName"}
	keysItemQuantity  = []string{"quantity", "qty"}
	keysItemUnit      = []string{"unit", "uom"}
	keysItemUnitPrice = []string{"unit_price_ex_vat", "unitPriceExVat", "unit_price", "unitPrice", "price"}
	keysItemTotal     = []string{"total_ex_vat", "totalExVat", "line_total", "total"}
)

var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"2.1.2006",
	"02-01-2006",
	"2006-01-02",
	"2006/01/02",
	"02/01/06",
	"2/1/06",
	"02.01.06",
}

// Decode parses a repaired JSON object into an ExtractedInvoice. Field names
// are matched in both snake_case and camelCase.
func Decode(span string) (models.ExtractedInvoice, error) {
	var inv models.ExtractedInvoice

	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return inv, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return inv, errors.New("response is null")
	}

	inv.SupplierCategory = parseCategory(pickString(raw, keysSupplierCategory))
	inv.SupplierName = strings.TrimSpace(pickString(raw, keysSupplierName))
	inv.SupplierConfidence = parseConfidence(pick(raw, keysSupplierConfidence))

	inv.DocumentNumber = parseDocumentNumber(pick(raw, keysDocumentNumber))
	inv.DocumentNumberConfidence = parseConfidence(pick(raw, keysDocumentNumberConf))

	docType, ok := parseDocumentType(pickString(raw, keysDocumentType))
	if !ok {
		inv.Warnings = append(inv.Warnings, fmt.Sprintf("unknown document type %q, assuming invoice", pickString(raw, keysDocumentType)))
	}
	inv.DocumentType = docType

	inv.DateConfidence = parseConfidence(pick(raw, keysDateConfidence))
	if rawDate := strings.TrimSpace(pickString(raw, keysDocumentDate)); rawDate != "" {
		if date, ok := parseDate(rawDate); ok {
			inv.DocumentDate = date
		} else {
			inv.Warnings = append(inv.Warnings, fmt.Sprintf("unrecognized document date %q", rawDate))
			inv.DateConfidence = 0
		}
	}

	inv.TotalConfidence = parseConfidence(pick(raw, keysTotalConfidence))
	if v := pick(raw, keysTotalAmount); v != nil {
		if amount, ok := parseAmount(v); ok {
			inv.TotalAmount = amount
		} else {
			inv.Warnings = append(inv.Warnings, fmt.Sprintf("unrecognized total amount %v", v))
			inv.TotalConfidence = 0
		}
	}

	inv.CreditCardLast4 = parseLast4(pick(raw, keysCardLast4))
	inv.CreditCardConfidence = parseConfidence(pick(raw, keysCardConfidence))

	inv.Notes = strings.TrimSpace(pickString(raw, keysNotes))

	if list, ok := pick(raw, keysLineItems).([]interface{}); ok {
		for _, entry := range list {
			fields, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			inv.LineItems = append(inv.LineItems, models.LineItem{
				Name:           strings.TrimSpace(pickString(fields, keysItemName)),
				Quantity:       parseDecimal(pick(fields, keysItemQuantity)),
				Unit:           strings.TrimSpace(pickString(fields, keysItemUnit)),
				UnitPriceExVat: parseDecimal(pick(fields, keysItemUnitPrice)),
				TotalExVat:     parseDecimal(pick(fields, keysItemTotal)),
			})
		}
	}

	return inv, nil
}

func pick(m map[string]interface{}, keys []string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func pickString(m map[string]interface{}, keys []string) string {
	switch v := pick(m, keys).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func parseCategory(s string) models.SupplierCategory {
	c := models.SupplierCategory(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return ""
}

func parseDocumentType(s string) (models.DocumentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invoice", "tax_invoice", "receipt":
		return models.DocumentInvoice, true
	case "delivery_note", "delivery", "deliverynote":
		return models.DocumentDeliveryNote, true
	case "credit_invoice", "credit_note", "credit":
		return models.DocumentCreditInvoice, true
	}
	return models.DocumentInvoice, false
}

// parseDocumentNumber keeps numeric literals verbatim so long numbers are never rounded.
func parseDocumentNumber(v interface{}) string {
	switch val := v.(type) {
	case json.Number:
		return val.String()
	case string:
		return strings.TrimSpace(val)
	}
	return ""
}

func parseConfidence(v interface{}) int {
	var f float64
	switch val := v.(type) {
	case json.Number:
		f, _ = val.Float64()
	case float64:
		f = val
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "%"))
		f, _ = strconv.ParseFloat(s, 64)
	default:
		return 0
	}
	// scores given as a 0-1 fraction
	if f > 0 && f < 1 {
		f *= 100
	}
	return int(math.Round(f))
}

// parseDecimal converts the loosely typed numbers models emit. Invalid input yields zero.
func parseDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case string:
		if d, ok := decimalFromString(val); ok {
			return d
		}
	}
	return decimal.Zero
}

// parseAmount returns a decimal string that keeps the scale the model wrote.
func parseAmount(v interface{}) (string, bool) {
	var d decimal.Decimal
	switch val := v.(type) {
	case json.Number:
		var err error
		if d, err = decimal.NewFromString(val.String()); err != nil {
			return "", false
		}
	case string:
		var ok bool
		if d, ok = decimalFromString(val); !ok {
			return "", false
		}
	default:
		return "", false
	}
	return formatAmount(d), true
}

func formatAmount(d decimal.Decimal) string {
	places := int32(0)
	if d.Exponent() < 0 {
		places = -d.Exponent()
	}
	return d.StringFixed(places)
}

// decimalFromString accepts thousands separators, currency marks and a trailing minus.
// A lone comma followed by exactly two digits is a decimal comma ("12,50").
func decimalFromString(s string) (decimal.Decimal, bool) {
	decimalComma := isDecimalComma(s)
	var b strings.Builder
	negative := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',' && decimalComma:
			b.WriteRune('.')
		case r == '-' || r == '−':
			negative = true
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

func isDecimalComma(s string) bool {
	i := strings.IndexByte(s, ',')
	if i < 0 || strings.Count(s, ",") > 1 || strings.Contains(s, ".") {
		return false
	}
	digits := 0
	for _, r := range s[i+1:] {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits == 2 && len(s) > i+2 && isDigit(s[i+1]) && isDigit(s[i+2])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// parseLast4 keeps the last four digits of a card reference, or nil.
func parseLast4(v interface{}) *string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	default:
		return nil
	}

	var digits bytes.Buffer
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			digits.WriteRune(r)
		}
	}
	if digits.Len() < 4 {
		return nil
	}
	last4 := digits.String()[digits.Len()-4:]
	return &last4
}

func parseDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("02/01/2006"), true
		}
	}
	return "", false
}
