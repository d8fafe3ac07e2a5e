// Package bulk scans a directory of documents one file at a time.
package bulk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/sinks"
	"github.com/facturaIA/invoice-scanner/internal/storage"
)

type Scanner interface {
	Extract(ctx context.Context, image models.ImageInput, onProgress models.ProgressFunc) (*models.ExtractedInvoice, error)
}

type Submitter interface {
	Submit(ctx context.Context, scanID string, inv *models.ExtractedInvoice) (sinks.Result, error)
}

// FileResult is the outcome of one file. Err is set when extraction or
// delivery failed; Invoice is kept in the latter case for resubmission.
type FileResult struct {
	Path     string
	ScanID   string
	Invoice  *models.ExtractedInvoice
	Sinks    sinks.Result
	Err      error
	Duration time.Duration
}

// Extracted reports whether the file produced an invoice
func (r FileResult) Extracted() bool {
	return r.Invoice != nil
}

type Summary struct {
	Files     int   `json:"files"`
	Extracted int   `json:"extracted"`
	Submitted int   `json:"submitted"`
	Failed    int   `json:"failed"`
	Tokens    int64 `json:"tokens"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d files: %d extracted, %d submitted, %d failed, %d tokens",
		s.Files, s.Extracted, s.Submitted, s.Failed, s.Tokens)
}

// Runner processes files sequentially. A nil submitter is a dry run.
type Runner struct {
	scanner   Scanner
	submitter Submitter
	logger    *zap.Logger
	readFile  func(string) ([]byte, error)
}

func NewRunner(scanner Scanner, submitter Submitter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		scanner:   scanner,
		submitter: submitter,
		logger:    logger,
		readFile:  os.ReadFile,
	}
}

// ListDocuments returns the supported documents directly inside dir, sorted by name.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if storage.Supported(storage.DetectMIMEType(e.Name(), nil)) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run processes paths in order. Each file completes, including delivery,
// before the next starts. A cancelled ctx stops the run after the current file.
func (r *Runner) Run(ctx context.Context, paths []string) ([]FileResult, Summary) {
	var (
		results []FileResult
		summary Summary
	)
	for i, path := range paths {
		if ctx.Err() != nil {
			r.logger.Warn("Bulk run cancelled", zap.Int("remaining", len(paths)-i))
			break
		}

		logger := r.logger.With(
			zap.String("file", filepath.Base(path)),
			zap.Int("index", i+1),
			zap.Int("total", len(paths)))

		res := r.processFile(ctx, path, logger)
		results = append(results, res)

		summary.Files++
		if res.Extracted() {
			summary.Extracted++
			if res.Invoice.Usage != nil {
				summary.Tokens += int64(res.Invoice.Usage.TotalTokenCount)
			}
		}
		if res.Err != nil {
			summary.Failed++
			logger.Error("File failed", zap.Error(res.Err))
			continue
		}
		if res.Sinks.Ledger == sinks.DeliverySent || res.Sinks.Products == sinks.DeliverySent {
			summary.Submitted++
		}
		logger.Info("File done",
			zap.String("scan_id", res.ScanID),
			zap.String("supplier", res.Invoice.SupplierName),
			zap.String("total", res.Invoice.TotalAmount),
			zap.Duration("duration", res.Duration))
	}
	return results, summary
}

func (r *Runner) processFile(ctx context.Context, path string, logger *zap.Logger) (res FileResult) {
	start := time.Now()
	res.Path = path
	res.ScanID = uuid.NewString()
	defer func() { res.Duration = time.Since(start) }()

	data, err := r.readFile(path)
	if err != nil {
		res.Err = apperrors.Wrap(err, apperrors.ErrBadRequest.Code, apperrors.KindInput, "failed to read file")
		return res
	}

	image := models.ImageInput{
		Data:     data,
		MIMEType: storage.DetectMIMEType(path, data),
		Filename: filepath.Base(path),
	}
	res.Invoice, res.Err = r.scanner.Extract(ctx, image, func(ev models.ProgressEvent) {
		logger.Debug("Scan progress",
			zap.String("status", string(ev.Status)),
			zap.Int("attempt", ev.Attempt),
			zap.String("message", ev.Message))
	})
	if res.Err != nil || r.submitter == nil {
		return res
	}

	res.Sinks, res.Err = r.submitter.Submit(ctx, res.ScanID, res.Invoice)
	return res
}
