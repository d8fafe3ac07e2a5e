package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

func testSinksConfig() models.SinksConfig {
	return models.SinksConfig{
		Attempts:        3,
		RetryDelay:      time.Millisecond,
		Timeout:         time.Second,
		BreakerFailures: 10,
		BreakerCooldown: time.Minute,
	}
}

// dropServer accepts connections and closes them without answering.
func dropServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capture) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func sampleInvoice() *models.ExtractedInvoice {
	card := "1234"
	return &models.ExtractedInvoice{
		SupplierCategory:         models.CategorySupermarket,
		SupplierName:             "שופרסל",
		SupplierConfidence:       92,
		DocumentNumber:           "0123456789012",
		DocumentNumberConfidence: 98,
		DocumentType:             models.DocumentInvoice,
		DocumentDate:             "12/12/2024",
		DateConfidence:           95,
		TotalAmount:              "236.00",
		TotalConfidence:          97,
		CreditCardLast4:          &card,
		CreditCardConfidence:     90,
		LineItems: []models.LineItem{{
			Name:           "חלב",
			Quantity:       decimal.NewFromInt(2),
			Unit:           "יח'",
			UnitPriceExVat: decimal.NewFromInt(50),
			TotalExVat:     decimal.NewFromInt(100),
		}},
	}
}

func testRegistry(t *testing.T) *suppliers.Registry {
	t.Helper()
	reg, err := suppliers.Default()
	require.NoError(t, err)
	return reg
}

func TestWebhookDeliversRegardlessOfStatus(t *testing.T) {
	var c capture
	srv := c.server(t, http.StatusInternalServerError)

	w := NewWebhook("ledger", srv.URL, testSinksConfig(), zap.NewNop(), nil)
	require.NoError(t, w.Post(context.Background(), map[string]string{"a": "b"}))
	assert.Equal(t, 1, c.count())
}

func TestWebhookRetriesTransportFailures(t *testing.T) {
	var hits int32
	srv := dropServer(t, &hits)

	w := NewWebhook("ledger", srv.URL, testSinksConfig(), zap.NewNop(), nil)
	err := w.Post(context.Background(), map[string]string{"a": "b"})
	require.Error(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.True(t, apperrors.IsKind(err, apperrors.KindSink))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 3, appErr.Attempt)
}

func TestWebhookBreakerFailsFast(t *testing.T) {
	var hits int32
	srv := dropServer(t, &hits)

	config := testSinksConfig()
	config.BreakerFailures = 3
	w := NewWebhook("ledger", srv.URL, config, zap.NewNop(), nil)

	require.Error(t, w.Post(context.Background(), "first"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	err := w.Post(context.Background(), "second")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, apperrors.IsKind(err, apperrors.KindSink))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDispatcherSendsBothPayloads(t *testing.T) {
	var ledger, products capture
	config := testSinksConfig()
	config.LedgerURL = ledger.server(t, http.StatusOK).URL
	config.ProductsURL = products.server(t, http.StatusOK).URL

	d := NewDispatcher(config, testRegistry(t), zap.NewNop(), nil)
	d.now = func() time.Time { return time.Date(2024, 12, 12, 8, 30, 0, 0, time.UTC) }

	result, err := d.Submit(context.Background(), "scan-1", sampleInvoice())
	require.NoError(t, err)
	assert.Equal(t, Result{Ledger: DeliverySent, Products: DeliverySent}, result)

	require.Equal(t, 1, ledger.count())
	row := ledger.bodies[0]
	assert.Equal(t, "2024-12-12T08:30:00Z", row["timestamp"])
	assert.Equal(t, "רשתות מזון", row["supplier_category"])
	assert.Equal(t, "חשבונית מס", row["document_type"])
	assert.Equal(t, "1234", row["credit_card_last4"])
	assert.Equal(t, "236.00", row["total_amount"])
	assert.Equal(t, float64(92), row["confidences"].(map[string]any)["supplier"])

	require.Equal(t, 1, products.count())
	items := products.bodies[0]["products"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "חלב", item["name"])
	assert.Equal(t, "2", item["quantity"])
	assert.Equal(t, "100.00", item["total_ex_vat"])
}

func TestDispatcherSkipsEmptyProducts(t *testing.T) {
	var ledger, products capture
	config := testSinksConfig()
	config.LedgerURL = ledger.server(t, http.StatusOK).URL
	config.ProductsURL = products.server(t, http.StatusOK).URL

	inv := sampleInvoice()
	inv.LineItems = nil

	result, err := NewDispatcher(config, testRegistry(t), zap.NewNop(), nil).Submit(context.Background(), "", inv)
	require.NoError(t, err)
	assert.Equal(t, DeliverySkipped, result.Products)
	assert.Equal(t, 1, ledger.count())
	assert.Equal(t, 0, products.count())
}

func TestDispatcherReportsFailedSink(t *testing.T) {
	var hits int32
	var products capture
	config := testSinksConfig()
	config.LedgerURL = dropServer(t, &hits).URL
	config.ProductsURL = products.server(t, http.StatusOK).URL

	result, err := NewDispatcher(config, testRegistry(t), zap.NewNop(), nil).Submit(context.Background(), "scan-2", sampleInvoice())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindSink))
	assert.Equal(t, DeliveryFailed, result.Ledger)
	assert.Equal(t, DeliverySent, result.Products)
}

func TestDispatcherDisabledSinks(t *testing.T) {
	d := NewDispatcher(testSinksConfig(), testRegistry(t), zap.NewNop(), nil)
	assert.False(t, d.Enabled())

	result, err := d.Submit(context.Background(), "", sampleInvoice())
	require.NoError(t, err)
	assert.Equal(t, Result{Ledger: DeliveryDisabled, Products: DeliveryDisabled}, result)
}

func TestDocumentTypeDisplayName(t *testing.T) {
	assert.Equal(t, "חשבונית מס", DocumentTypeDisplayName(models.DocumentInvoice))
	assert.Equal(t, "תעודת משלוח", DocumentTypeDisplayName(models.DocumentDeliveryNote))
	assert.Equal(t, models.CreditMarker, DocumentTypeDisplayName(models.DocumentCreditInvoice))
}
