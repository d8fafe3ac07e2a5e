package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

// GeminiSDK uses the official Go client instead of raw HTTP.
type GeminiSDK struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewGeminiSDK(ctx context.Context, config models.GeminiConfig, timeout time.Duration, logger *zap.Logger) (*GeminiSDK, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, apperrors.KindConfig, "failed to create Gemini client")
	}
	return &GeminiSDK{
		client:  client,
		model:   config.Model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (g *GeminiSDK) Name() string { return "gemini-sdk" }

func (g *GeminiSDK) Close() error {
	return g.client.Close()
}

func (g *GeminiSDK) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(req.Generation.Temperature)
	model.SetTopK(req.Generation.TopK)
	model.SetTopP(req.Generation.TopP)
	model.SetMaxOutputTokens(req.Generation.MaxOutputTokens)

	start := time.Now()
	resp, err := model.GenerateContent(callCtx,
		genai.Text(req.Prompt),
		genai.Blob{MIMEType: req.MIMEType, Data: req.Image},
	)
	if err != nil {
		if ctxErr := contextError(ctx, callCtx, err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifySDKError(err)
	}

	g.logger.Debug("Analysis call completed",
		zap.String("model", g.model),
		zap.Duration("duration", time.Since(start)))

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, apperrors.New(apperrors.ErrEmptyResponse.Code, apperrors.KindUpstream, apperrors.ErrEmptyResponse.Message)
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return nil, apperrors.New(apperrors.ErrEmptyResponse.Code, apperrors.KindUpstream, apperrors.ErrEmptyResponse.Message)
	}

	result := &AnalysisResult{
		Text:         text.String(),
		FinishReason: fmt.Sprint(candidate.FinishReason),
	}
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		g.logger.Warn("Analysis output hit the token limit",
			zap.Int32("max_output_tokens", req.Generation.MaxOutputTokens))
	}
	if meta := resp.UsageMetadata; meta != nil {
		result.Usage = &models.Usage{
			PromptTokenCount:     meta.PromptTokenCount,
			CandidatesTokenCount: meta.CandidatesTokenCount,
			TotalTokenCount:      meta.TotalTokenCount,
		}
	}
	return result, nil
}

func classifySDKError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusTooManyRequests {
			return apperrors.RateLimited(gErr.Code, gErr.Message)
		}
		return apperrors.Upstream(gErr.Code, gErr.Message)
	}

	if apiErr, ok := apierror.FromError(err); ok {
		if apiErr.HTTPCode() == http.StatusTooManyRequests {
			return apperrors.RateLimited(apiErr.HTTPCode(), apiErr.Error())
		}
		if st := apiErr.GRPCStatus(); st != nil && st.Code() == codes.ResourceExhausted {
			return apperrors.RateLimited(http.StatusTooManyRequests, st.Message())
		}
		return apperrors.Upstream(apiErr.HTTPCode(), apiErr.Error())
	}

	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
		return apperrors.RateLimited(http.StatusTooManyRequests, st.Message())
	}
	return apperrors.Wrap(err, apperrors.ErrUpstream.Code, apperrors.KindUpstream, "analysis call failed")
}
