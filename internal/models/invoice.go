package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SupplierCategory is the resolved supplier bucket of a document
type SupplierCategory string

const (
	CategoryPriority    SupplierCategory = "priority"
	CategoryFuelStation SupplierCategory = "fuel_station"
	CategorySupermarket SupplierCategory = "supermarket"
	CategoryNursery     SupplierCategory = "nursery"
	CategoryOther       SupplierCategory = "other"
)

// Valid reports whether c is one of the known categories
func (c SupplierCategory) Valid() bool {
	switch c {
	case CategoryPriority, CategoryFuelStation, CategorySupermarket, CategoryNursery, CategoryOther:
		return true
	}
	return false
}

// DocumentType distinguishes invoices, delivery notes and credit notes
type DocumentType string

const (
	DocumentInvoice       DocumentType = "invoice"
	DocumentDeliveryNote  DocumentType = "delivery_note"
	DocumentCreditInvoice DocumentType = "credit_invoice"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentInvoice, DocumentDeliveryNote, DocumentCreditInvoice:
		return true
	}
	return false
}

// CreditMarker is the text a credit invoice's notes must carry
const CreditMarker = "חשבונית זיכוי"

// MaxLineItems caps the number of line items kept per document
const MaxLineItems = 100

// ExtractedInvoice is the normalized record produced from one scanned document
type ExtractedInvoice struct {
	SupplierCategory   SupplierCategory `json:"supplierCategory"`
	SupplierName       string           `json:"supplierName"`
	SupplierConfidence int              `json:"supplierConfidence"`

	DocumentNumber           string `json:"documentNumber"` // up to 15 digits, kept verbatim
	DocumentNumberConfidence int    `json:"documentNumberConfidence"`

	DocumentType DocumentType `json:"documentType"`

	DocumentDate   string `json:"documentDate"` // DD/MM/YYYY
	DateConfidence int    `json:"dateConfidence"`

	TotalAmount     string `json:"totalAmount"` // decimal string, negative for credit invoices
	TotalConfidence int    `json:"totalConfidence"`

	CreditCardLast4      *string `json:"creditCardLast4"`
	CreditCardConfidence int     `json:"creditCardConfidence"`

	Notes     string     `json:"notes"`
	LineItems []LineItem `json:"lineItems"`

	Usage *Usage `json:"usage,omitempty"`

	// Warnings lists non-blocking anomalies found while normalizing
	Warnings []string `json:"warnings,omitempty"`
}

// LineItem is one product row of a document
type LineItem struct {
	Name           string          `json:"name"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	UnitPriceExVat decimal.Decimal `json:"unitPriceExVat"`
	TotalExVat     decimal.Decimal `json:"totalExVat"`
}

// Usage is token metering reported by the analysis API. The counts are read
// for accounting; Raw holds the provider's object as received and is what
// gets serialized, so fields unknown here pass through untouched.
type Usage struct {
	PromptTokenCount     int32
	CandidatesTokenCount int32
	TotalTokenCount      int32

	Raw json.RawMessage
}

type usageCounts struct {
	PromptTokenCount     int32 `json:"promptTokenCount"`
	CandidatesTokenCount int32 `json:"candidatesTokenCount"`
	TotalTokenCount      int32 `json:"totalTokenCount"`
}

func (u Usage) MarshalJSON() ([]byte, error) {
	if len(u.Raw) > 0 {
		return u.Raw, nil
	}
	return json.Marshal(usageCounts{
		PromptTokenCount:     u.PromptTokenCount,
		CandidatesTokenCount: u.CandidatesTokenCount,
		TotalTokenCount:      u.TotalTokenCount,
	})
}

func (u *Usage) UnmarshalJSON(data []byte) error {
	var c usageCounts
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	*u = Usage{
		PromptTokenCount:     c.PromptTokenCount,
		CandidatesTokenCount: c.CandidatesTokenCount,
		TotalTokenCount:      c.TotalTokenCount,
		Raw:                  append(json.RawMessage(nil), data...),
	}
	return nil
}

// AverageConfidence averages the per-field confidences
func (inv *ExtractedInvoice) AverageConfidence() int {
	scores := []int{
		inv.SupplierConfidence,
		inv.DocumentNumberConfidence,
		inv.DateConfidence,
		inv.TotalConfidence,
	}
	if inv.CreditCardLast4 != nil {
		scores = append(scores, inv.CreditCardConfidence)
	}

	sum := 0
	for _, s := range scores {
		sum += s
	}
	return (sum + len(scores)/2) / len(scores)
}

// QualityLevel buckets an average confidence
type QualityLevel string

const (
	QualityHigh   QualityLevel = "high"
	QualityMedium QualityLevel = "medium"
	QualityLow    QualityLevel = "low"
	QualityPoor   QualityLevel = "poor"
)

// Quality maps a confidence score onto the review thresholds (90/75/60)
func Quality(confidence int) QualityLevel {
	switch {
	case confidence >= 90:
		return QualityHigh
	case confidence >= 75:
		return QualityMedium
	case confidence >= 60:
		return QualityLow
	default:
		return QualityPoor
	}
}

// ImageInput is an uploaded document image
type ImageInput struct {
	Data     []byte
	MIMEType string
	Filename string
}

// ProgressStatus names a step of the scan lifecycle
type ProgressStatus string

const (
	StatusQueued     ProgressStatus = "queued"
	StatusThrottling ProgressStatus = "throttling"
	StatusAnalyzing  ProgressStatus = "analyzing"
	StatusRetrying   ProgressStatus = "retrying"
	StatusTimeout    ProgressStatus = "timeout"
	StatusProcessing ProgressStatus = "processing"
	StatusSuccess    ProgressStatus = "success"
	StatusFailed     ProgressStatus = "failed"
)

// ProgressEvent is reported to observers at every lifecycle transition
type ProgressEvent struct {
	Status  ProgressStatus `json:"status"`
	Attempt int            `json:"attempt"`
	Total   int            `json:"total,omitempty"`
	Message string         `json:"message"`
}

// ProgressFunc observes progress. It may be nil.
type ProgressFunc func(ProgressEvent)

// Notify calls f when it is set
func (f ProgressFunc) Notify(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// ScanResponse is returned by the scan endpoint
type ScanResponse struct {
	Success           bool              `json:"success"`
	ScanID            string            `json:"scanId,omitempty"`
	Invoice           *ExtractedInvoice `json:"invoice,omitempty"`
	AverageConfidence int               `json:"averageConfidence,omitempty"`
	Quality           QualityLevel      `json:"quality,omitempty"`
	ImagePath         string            `json:"imagePath,omitempty"`
	Error             string            `json:"error,omitempty"`
	ErrorCode         string            `json:"errorCode,omitempty"`

	TotalDuration float64 `json:"totalDuration"` // seconds
}

// ScanRecord is an archived scan
type ScanRecord struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename"`
	ImagePath   string           `json:"imagePath,omitempty"`
	Invoice     ExtractedInvoice `json:"invoice"`
	SubmittedAt *time.Time       `json:"submittedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
