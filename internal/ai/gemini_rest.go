package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiREST calls the generateContent endpoint directly over HTTP.
type GeminiREST struct {
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

func NewGeminiREST(config models.GeminiConfig, timeout time.Duration, logger *zap.Logger) *GeminiREST {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiREST{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (g *GeminiREST) Name() string { return "gemini" }

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig models.GenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *models.Usage `json:"usageMetadata"`
}

type geminiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Analyze performs one generateContent call.
func (g *GeminiREST) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	reqID := uuid.New().String()[:8]

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: req.Prompt},
				{InlineData: &geminiBlob{
					MIMEType: req.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(req.Image),
				}},
			},
		}},
		GenerationConfig: req.Generation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctxErr := contextError(ctx, callCtx, err); ctxErr != nil {
			g.logger.Warn("Analysis call aborted",
				zap.String("req_id", reqID),
				zap.Duration("timeout", g.timeout),
				zap.Error(ctxErr))
			return nil, ctxErr
		}
		return nil, apperrors.Wrap(err, apperrors.ErrUpstream.Code, apperrors.KindUpstream, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := contextError(ctx, callCtx, err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Wrap(err, apperrors.ErrUpstream.Code, apperrors.KindUpstream, "failed to read response")
	}

	g.logger.Debug("Analysis call completed",
		zap.String("req_id", reqID),
		zap.String("model", g.model),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return nil, classifyGeminiStatus(resp.StatusCode, respBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUpstream.Code, apperrors.KindUpstream, "malformed response envelope")
	}

	if len(parsed.Candidates) == 0 {
		msg := apperrors.ErrEmptyResponse.Message
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			msg = "request blocked: " + parsed.PromptFeedback.BlockReason
		}
		return nil, apperrors.New(apperrors.ErrEmptyResponse.Code, apperrors.KindUpstream, msg)
	}

	candidate := parsed.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, apperrors.New(apperrors.ErrEmptyResponse.Code, apperrors.KindUpstream,
			fmt.Sprintf("%s (finish reason %s)", apperrors.ErrEmptyResponse.Message, candidate.FinishReason))
	}
	if candidate.FinishReason == "MAX_TOKENS" {
		g.logger.Warn("Analysis output hit the token limit",
			zap.String("req_id", reqID),
			zap.Int32("max_output_tokens", req.Generation.MaxOutputTokens))
	}

	return &AnalysisResult{
		Text:         text.String(),
		Usage:        parsed.UsageMetadata,
		FinishReason: candidate.FinishReason,
	}, nil
}

func classifyGeminiStatus(status int, body []byte) error {
	var envelope geminiErrorEnvelope
	msg := ""
	if err := json.Unmarshal(body, &envelope); err == nil {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("API error (status %d)", status)
	}

	if status == http.StatusTooManyRequests || envelope.Error.Status == "RESOURCE_EXHAUSTED" {
		return apperrors.RateLimited(status, msg)
	}
	return apperrors.Upstream(status, msg)
}
