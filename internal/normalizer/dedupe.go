package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// ItemKey is the identity of a line item: case-folded name with quote marks
// and punctuation turned into spaces, whitespace collapsed. A '.' or ','
// between two digits is kept, so "1.5%" and "15%" stay distinct.
func ItemKey(name string) string {
	runes := []rune(cases.Fold().String(name))
	for i, r := range runes {
		if !unicode.IsPunct(r) && !unicode.In(r, unicode.Quotation_Mark) {
			continue
		}
		if (r == '.' || r == ',') && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		runes[i] = ' '
	}
	return strings.Join(strings.Fields(string(runes)), " ")
}

// DedupeLineItems merges items sharing a key. Quantities and totals are
// summed; the first occurrence's name, unit and unit price are kept. Items
// with an empty key are never merged. The result keeps first-seen order and
// is capped at models.MaxLineItems.
func DedupeLineItems(items []models.LineItem) []models.LineItem {
	if len(items) == 0 {
		return items
	}

	index := make(map[string]int, len(items))
	out := make([]models.LineItem, 0, len(items))
	for _, item := range items {
		key := ItemKey(item.Name)
		if key == "" {
			out = append(out, item)
			continue
		}
		if i, ok := index[key]; ok {
			out[i].Quantity = out[i].Quantity.Add(item.Quantity)
			out[i].TotalExVat = out[i].TotalExVat.Add(item.TotalExVat)
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}

	if len(out) > models.MaxLineItems {
		out = out[:models.MaxLineItems]
	}
	return out
}
