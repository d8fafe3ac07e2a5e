package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// ErrNotFound is returned when no scan has the requested id
var ErrNotFound = errors.New("scan not found")

// SaveScan archives an extracted invoice. An empty ID is generated.
func (s *Store) SaveScan(ctx context.Context, rec *models.ScanRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("invalid scan id: %w", err)
	}

	doc, err := json.Marshal(rec.Invoice)
	if err != nil {
		return fmt.Errorf("failed to encode invoice: %w", err)
	}

	var total *decimal.Decimal
	if d, err := decimal.NewFromString(rec.Invoice.TotalAmount); err == nil {
		total = &d
	}

	return s.pool.QueryRow(ctx, `
		INSERT INTO scans (
			id, filename, image_path, supplier_category, supplier_name,
			document_number, document_date, total_amount, invoice
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`,
		id, rec.Filename, rec.ImagePath, string(rec.Invoice.SupplierCategory), rec.Invoice.SupplierName,
		rec.Invoice.DocumentNumber, rec.Invoice.DocumentDate, total, doc,
	).Scan(&rec.CreatedAt)
}

// GetScan retrieves a single scan by ID
func (s *Store) GetScan(ctx context.Context, id string) (*models.ScanRecord, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var (
		rec models.ScanRecord
		uid uuid.UUID
		doc []byte
	)
	err = s.pool.QueryRow(ctx, `
		SELECT id, filename, image_path, invoice, submitted_at, created_at
		FROM scans
		WHERE id = $1
	`, key).Scan(&uid, &rec.Filename, &rec.ImagePath, &doc, &rec.SubmittedAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.ID = uid.String()
	if err := json.Unmarshal(doc, &rec.Invoice); err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}
	return &rec, nil
}

// ListScans returns the most recent scans first
func (s *Store) ListScans(ctx context.Context, limit int) ([]models.ScanRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, image_path, invoice, submitted_at, created_at
		FROM scans
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []models.ScanRecord
	for rows.Next() {
		var (
			rec models.ScanRecord
			uid uuid.UUID
			doc []byte
		)
		if err := rows.Scan(&uid, &rec.Filename, &rec.ImagePath, &doc, &rec.SubmittedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ID = uid.String()
		if err := json.Unmarshal(doc, &rec.Invoice); err != nil {
			return nil, fmt.Errorf("failed to decode invoice %s: %w", rec.ID, err)
		}
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

// MarkSubmitted stores the reviewed invoice and the submission time
func (s *Store) MarkSubmitted(ctx context.Context, id string, inv *models.ExtractedInvoice, at time.Time) error {
	key, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE scans
		SET invoice = $2, supplier_name = $3, document_number = $4, submitted_at = $5
		WHERE id = $1
	`, key, doc, inv.SupplierName, inv.DocumentNumber, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MonthlyStats summarizes the current month's scans
type MonthlyStats struct {
	Month       string          `json:"month"`
	Scans       int             `json:"scans"`
	Submitted   int             `json:"submitted"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// GetMonthlyStats returns statistics for current month
func (s *Store) GetMonthlyStats(ctx context.Context, now time.Time) (*MonthlyStats, error) {
	stats := &MonthlyStats{Month: now.Format("2006-01")}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(submitted_at),
			COALESCE(SUM(total_amount), 0)
		FROM scans
		WHERE DATE_TRUNC('month', created_at) = DATE_TRUNC('month', $1::timestamptz)
	`, now).Scan(&stats.Scans, &stats.Submitted, &stats.TotalAmount)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
