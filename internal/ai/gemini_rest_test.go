package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

func newGeminiServer(t *testing.T, handler http.HandlerFunc) *GeminiREST {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiREST(models.GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-test",
		BaseURL: srv.URL,
	}, time.Second, zap.NewNop())
}

func testRequest() AnalysisRequest {
	return AnalysisRequest{
		Image:    []byte("image-bytes"),
		MIMEType: "image/jpeg",
		Prompt:   "extract",
		Generation: models.GenerationConfig{
			Temperature:     0.1,
			TopK:            32,
			TopP:            0.95,
			MaxOutputTokens: 2048,
		},
	}
}

func TestGeminiRESTRequestAndResponse(t *testing.T) {
	var (
		path, key string
		body      map[string]any
	)
	provider := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{
  "candidates": [{"content": {"parts": [{"text": "{\"a\":"}, {"text": "1}"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15, "thoughtsTokenCount": 4}
}`))
	})

	result, err := provider.Analyze(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "/gemini-test:generateContent", path)
	assert.Equal(t, "test-key", key)

	parts := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "extract", parts[0].(map[string]any)["text"])
	inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
	assert.Equal(t, "image/jpeg", inline["mime_type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("image-bytes")), inline["data"])

	gen := body["generationConfig"].(map[string]any)
	assert.Equal(t, float64(32), gen["topK"])
	assert.Equal(t, float64(2048), gen["maxOutputTokens"])

	assert.Equal(t, `{"a":1}`, result.Text)
	assert.Equal(t, "STOP", result.FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, int32(15), result.Usage.TotalTokenCount)
	assert.JSONEq(t, `{"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15, "thoughtsTokenCount": 4}`,
		string(result.Usage.Raw))
}

func TestGeminiRESTErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    apperrors.Kind
		message string
	}{
		{
			name:    "too many requests",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			kind:    apperrors.KindRateLimit,
			message: "Resource has been exhausted",
		},
		{
			name:    "resource exhausted status",
			status:  http.StatusServiceUnavailable,
			body:    `{"error":{"code":503,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`,
			kind:    apperrors.KindRateLimit,
			message: "quota",
		},
		{
			name:    "bad key",
			status:  http.StatusBadRequest,
			body:    `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`,
			kind:    apperrors.KindUpstream,
			message: "API key not valid",
		},
		{
			name:    "no envelope",
			status:  http.StatusInternalServerError,
			body:    `oops`,
			kind:    apperrors.KindUpstream,
			message: "API error (status 500)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := provider.Analyze(context.Background(), testRequest())
			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, appErr.Kind)
			assert.Equal(t, tt.status, appErr.Status)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}

// hangingHandler blocks until the request context ends or release is closed.
// The body is never read, so the server may not notice a client disconnect.
func hangingHandler() (http.HandlerFunc, chan struct{}) {
	release := make(chan struct{})
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}, release
}

func TestGeminiRESTTimeout(t *testing.T) {
	handler, release := hangingHandler()
	provider := newGeminiServer(t, handler)
	t.Cleanup(func() { close(release) })
	provider.timeout = 20 * time.Millisecond

	_, err := provider.Analyze(context.Background(), testRequest())
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout))
}

func TestGeminiRESTCallerCancellationIsNotTimeout(t *testing.T) {
	handler, release := hangingHandler()
	provider := newGeminiServer(t, handler)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := provider.Analyze(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsKind(err, apperrors.KindTimeout))
}

func TestGeminiRESTEmptyCandidates(t *testing.T) {
	provider := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	})

	_, err := provider.Analyze(context.Background(), testRequest())
	assert.ErrorIs(t, err, apperrors.ErrEmptyResponse)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUpstream))
	assert.Contains(t, err.Error(), "SAFETY")
}
