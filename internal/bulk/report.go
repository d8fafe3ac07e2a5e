package bulk

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/sinks"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

const (
	DocumentsSheet = "Documents"
	LineItemsSheet = "Line Items"
)

var documentHeaders = []string{
	"File",
	"Status",
	"Category",
	"Supplier",
	"Document Number",
	"Document Type",
	"Date",
	"Total",
	"Card",
	"Avg Confidence",
	"Quality",
	"Ledger",
	"Products",
	"Warnings",
	"Error",
}

var lineItemHeaders = []string{
	"File",
	"Document Number",
	"Name",
	"Quantity",
	"Unit",
	"Unit Price ex VAT",
	"Total ex VAT",
}

// WriteReport renders results as an XLSX workbook with one row per
// document and one row per line item.
func WriteReport(w io.Writer, results []FileResult, registry *suppliers.Registry) error {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the documents sheet
	if err := f.SetSheetName(f.GetSheetName(0), DocumentsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(LineItemsSheet); err != nil {
		return err
	}

	writeRow(f, DocumentsSheet, 1, toCells(documentHeaders))
	writeRow(f, LineItemsSheet, 1, toCells(lineItemHeaders))

	itemRow := 2
	for i, res := range results {
		writeRow(f, DocumentsSheet, i+2, documentRow(res, registry))

		if res.Invoice == nil {
			continue
		}
		for _, item := range res.Invoice.LineItems {
			writeRow(f, LineItemsSheet, itemRow, []any{
				filepath.Base(res.Path),
				res.Invoice.DocumentNumber,
				item.Name,
				item.Quantity.InexactFloat64(),
				item.Unit,
				item.UnitPriceExVat.InexactFloat64(),
				item.TotalExVat.InexactFloat64(),
			})
			itemRow++
		}
	}

	_ = f.SetColWidth(DocumentsSheet, "A", "A", 28)
	_ = f.SetColWidth(DocumentsSheet, "C", "D", 22)
	_ = f.SetColWidth(DocumentsSheet, "E", "E", 18)
	_ = f.SetColWidth(DocumentsSheet, "N", "O", 48)
	_ = f.SetColWidth(LineItemsSheet, "A", "C", 28)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func documentRow(res FileResult, registry *suppliers.Registry) []any {
	status := "ok"
	errText := ""
	if res.Err != nil {
		status = "failed"
		errText = res.Err.Error()
	}

	row := []any{filepath.Base(res.Path), status}
	inv := res.Invoice
	if inv == nil {
		row = append(row, "", "", "", "", "", "", "", "", "", "", "", "")
		return append(row, errText)
	}

	card := ""
	if inv.CreditCardLast4 != nil {
		card = *inv.CreditCardLast4
	}
	avg := inv.AverageConfidence()
	return append(row,
		registry.DisplayName(inv.SupplierCategory),
		inv.SupplierName,
		inv.DocumentNumber,
		sinks.DocumentTypeDisplayName(inv.DocumentType),
		inv.DocumentDate,
		inv.TotalAmount,
		card,
		avg,
		string(models.Quality(avg)),
		string(res.Sinks.Ledger),
		string(res.Sinks.Products),
		strings.Join(inv.Warnings, "; "),
		errText,
	)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func toCells(headers []string) []any {
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}
