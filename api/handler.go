package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/facturaIA/invoice-scanner/internal/auth"
	"github.com/facturaIA/invoice-scanner/internal/db"
	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/queue"
	"github.com/facturaIA/invoice-scanner/internal/sinks"
	"github.com/facturaIA/invoice-scanner/internal/storage"
	"github.com/facturaIA/invoice-scanner/internal/usage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "1.0.0"
)

// Scanner extracts an invoice from an image
type Scanner interface {
	Extract(ctx context.Context, image models.ImageInput, onProgress models.ProgressFunc) (*models.ExtractedInvoice, error)
}

// Submitter delivers a reviewed invoice to the sinks
type Submitter interface {
	Submit(ctx context.Context, scanID string, inv *models.ExtractedInvoice) (sinks.Result, error)
}

type QueueStatus interface {
	Status() queue.Status
}

// ScanArchive persists scans. Optional.
type ScanArchive interface {
	SaveScan(ctx context.Context, rec *models.ScanRecord) error
	GetScan(ctx context.Context, id string) (*models.ScanRecord, error)
	ListScans(ctx context.Context, limit int) ([]models.ScanRecord, error)
	MarkSubmitted(ctx context.Context, id string, inv *models.ExtractedInvoice, at time.Time) error
	GetMonthlyStats(ctx context.Context, now time.Time) (*db.MonthlyStats, error)
	Ping(ctx context.Context) error
}

// ImageArchive stores uploaded images. Optional.
type ImageArchive interface {
	UploadImage(ctx context.Context, scanID string, image models.ImageInput) (string, error)
	GetPresignedURL(ctx context.Context, objectPath string) (string, error)
}

// Deps wires the handler. Scans, Images and Auth may be nil.
type Deps struct {
	Config  *models.Config
	Scanner Scanner
	Sinks   Submitter
	Queue   QueueStatus
	Usage   usage.Counter
	Scans   ScanArchive
	Images  ImageArchive
	Auth    *auth.Authenticator
	Metrics http.Handler
	Logger  *zap.Logger
}

// Handler handles HTTP requests for invoice scanning
type Handler struct {
	Deps
	started time.Time
	now     func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config == nil {
		deps.Config = &models.Config{}
	}
	return &Handler{Deps: deps, started: time.Now(), now: time.Now}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health).Methods("GET")
	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()
	if h.Auth != nil {
		api.Use(h.Auth.Middleware)
	}

	api.HandleFunc("/scan", h.Scan).Methods("POST")
	api.HandleFunc("/submit", h.Submit).Methods("POST")
	api.HandleFunc("/usage", h.Usage).Methods("GET")
	api.HandleFunc("/queue", h.QueueStatus).Methods("GET")

	if h.Scans != nil {
		api.HandleFunc("/scans", h.ListScans).Methods("GET")
		api.HandleFunc("/scans/{id}", h.GetScan).Methods("GET")
		api.HandleFunc("/stats", h.GetStats).Methods("GET")
	}
	if h.Scans != nil && h.Images != nil {
		api.HandleFunc("/scans/{id}/image", h.GetScanImage).Methods("GET")
	}

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Database  ServiceStatus     `json:"database"`
	Storage   ServiceStatus     `json:"storage"`
	Sinks     ServiceStatus     `json:"sinks"`
	Queue     queue.Status      `json:"queue"`
	AI        map[string]string `json:"ai"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: h.now().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Database: h.checkDatabase(r.Context()),
		Storage:  ServiceStatus{Available: h.Images != nil},
		Sinks: ServiceStatus{
			Available: h.Config.Sinks.LedgerURL != "" || h.Config.Sinks.ProductsURL != "",
		},
		AI: map[string]string{
			"defaultProvider": h.Config.AI.DefaultProvider,
			"model":           h.model(),
		},
	}
	if h.Queue != nil {
		response.Queue = h.Queue.Status()
	}
	if !response.Storage.Available {
		response.Storage.Error = "image archive not configured"
	}

	status := http.StatusOK
	if h.Config.Database.URL != "" && !response.Database.Available {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

func (h *Handler) model() string {
	if h.Config.AI.DefaultProvider == "openai" {
		return h.Config.AI.OpenAI.Model
	}
	return h.Config.AI.Gemini.Model
}

// checkDatabase verifies PostgreSQL connection
func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.Scans == nil {
		return ServiceStatus{Available: false, Error: "database not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.Scans.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

// Scan analyzes an uploaded invoice image
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, apperrors.ErrBadRequest.Code, "File too large or invalid form data")
		return
	}

	// Accept both "file" and "image" field names
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, apperrors.ErrBadRequest.Code, "No file provided (use 'file' or 'image' field)")
			return
		}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "GEN_500", "Failed to read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !storage.Supported(contentType) {
		contentType = storage.DetectMIMEType(header.Filename, data)
	}
	if !storage.Supported(contentType) {
		h.sendError(w, http.StatusUnsupportedMediaType, apperrors.ErrBadRequest.Code,
			fmt.Sprintf("unsupported file type %q", contentType))
		return
	}

	scanID := uuid.NewString()
	logger := h.Logger.With(zap.String("scan_id", scanID))
	image := models.ImageInput{Data: data, MIMEType: contentType, Filename: header.Filename}

	var imagePath string
	if h.Images != nil {
		imagePath, err = h.Images.UploadImage(ctx, scanID, image)
		if err != nil {
			// Image storage is optional
			logger.Warn("Failed to archive image", zap.Error(err))
		}
	}

	inv, err := h.Scanner.Extract(ctx, image, func(ev models.ProgressEvent) {
		logger.Debug("Scan progress",
			zap.String("status", string(ev.Status)),
			zap.Int("attempt", ev.Attempt),
			zap.String("message", ev.Message))
	})
	if err != nil {
		h.writeJSON(w, statusForError(err), models.ScanResponse{
			Success:       false,
			ScanID:        scanID,
			Error:         err.Error(),
			ErrorCode:     apperrors.GetCode(err),
			TotalDuration: time.Since(startTime).Seconds(),
		})
		return
	}

	if h.Scans != nil {
		rec := &models.ScanRecord{ID: scanID, Filename: header.Filename, ImagePath: imagePath, Invoice: *inv}
		if err := h.Scans.SaveScan(ctx, rec); err != nil {
			logger.Warn("Failed to archive scan", zap.Error(err))
		}
	}

	avg := inv.AverageConfidence()
	h.writeJSON(w, http.StatusOK, models.ScanResponse{
		Success:           true,
		ScanID:            scanID,
		Invoice:           inv,
		AverageConfidence: avg,
		Quality:           models.Quality(avg),
		ImagePath:         imagePath,
		TotalDuration:     time.Since(startTime).Seconds(),
	})
}

// SubmitRequest carries a reviewed invoice
type SubmitRequest struct {
	ScanID  string                   `json:"scanId"`
	Invoice *models.ExtractedInvoice `json:"invoice"`
}

type SubmitResponse struct {
	Success   bool         `json:"success"`
	Result    sinks.Result `json:"result"`
	Error     string       `json:"error,omitempty"`
	ErrorCode string       `json:"errorCode,omitempty"`
}

// Submit forwards a reviewed invoice to the ledger and products sinks
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxUploadSize)).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, apperrors.ErrBadRequest.Code, "invalid request body")
		return
	}
	if req.Invoice == nil {
		h.sendError(w, http.StatusBadRequest, apperrors.ErrBadRequest.Code, "invoice is required")
		return
	}

	result, err := h.Sinks.Submit(ctx, req.ScanID, req.Invoice)
	if err != nil {
		h.writeJSON(w, statusForError(err), SubmitResponse{
			Success:   false,
			Result:    result,
			Error:     err.Error(),
			ErrorCode: apperrors.GetCode(err),
		})
		return
	}

	if h.Scans != nil && req.ScanID != "" {
		if err := h.Scans.MarkSubmitted(ctx, req.ScanID, req.Invoice, h.now()); err != nil {
			h.Logger.Warn("Failed to mark scan as submitted",
				zap.String("scan_id", req.ScanID),
				zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, SubmitResponse{Success: true, Result: result})
}

// Usage returns today's token consumption
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	day, err := h.Deps.Usage.Day(r.Context(), h.now())
	if err != nil {
		h.Logger.Error("Failed to read token usage", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "GEN_500", "failed to read usage")
		return
	}
	h.writeJSON(w, http.StatusOK, day)
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Queue.Status())
}

// ListScans returns recent scans, newest first
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 500 {
			h.sendError(w, http.StatusBadRequest, apperrors.ErrBadRequest.Code, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	scans, err := h.Scans.ListScans(r.Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list scans", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "GEN_500", "failed to list scans")
		return
	}
	if scans == nil {
		scans = []models.ScanRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"scans": scans,
		"count": len(scans),
	})
}

// GetScan returns a single archived scan
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupScan(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// GetScanImage redirects to a presigned URL of the original image
func (h *Handler) GetScanImage(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookupScan(w, r)
	if !ok {
		return
	}
	if rec.ImagePath == "" {
		h.sendError(w, http.StatusNotFound, apperrors.ErrBadRequest.Code, "scan has no archived image")
		return
	}
	url, err := h.Images.GetPresignedURL(r.Context(), rec.ImagePath)
	if err != nil {
		h.Logger.Error("Failed to presign image URL", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "GEN_500", "failed to generate image URL")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// GetStats returns this month's scan statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Scans.GetMonthlyStats(r.Context(), h.now())
	if err != nil {
		h.Logger.Error("Failed to compute stats", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "GEN_500", "failed to compute stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) lookupScan(w http.ResponseWriter, r *http.Request) (*models.ScanRecord, bool) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		h.sendError(w, http.StatusBadRequest, apperrors.ErrBadRequest.Code, "invalid scan id")
		return nil, false
	}
	rec, err := h.Scans.GetScan(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		h.sendError(w, http.StatusNotFound, apperrors.ErrBadRequest.Code, "scan not found")
		return nil, false
	}
	if err != nil {
		h.Logger.Error("Failed to load scan", zap.String("scan_id", id), zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "GEN_500", "failed to load scan")
		return nil, false
	}
	return rec, true
}

// statusForError maps an error kind onto an HTTP status
func statusForError(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindInput:
		return http.StatusBadRequest
	case apperrors.KindParse:
		return http.StatusUnprocessableEntity
	case apperrors.KindRateLimit, apperrors.KindExhausted:
		return http.StatusTooManyRequests
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout
	case apperrors.KindUpstream, apperrors.KindSink:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) {
		return 499
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, code, message string) {
	h.writeJSON(w, statusCode, map[string]string{
		"error":     message,
		"errorCode": code,
	})
}
