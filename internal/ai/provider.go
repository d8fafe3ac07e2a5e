package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

// AnalysisRequest is one structured-extraction call: prompt text plus an
// inline image.
type AnalysisRequest struct {
	Image      []byte
	MIMEType   string
	Prompt     string
	Generation models.GenerationConfig
}

// AnalysisResult carries the raw generated text. It is never parsed here.
type AnalysisResult struct {
	Text         string
	Usage        *models.Usage
	FinishReason string
}

// Provider performs a single analysis attempt bound by its own timeout.
//
// Implementations report throttling as KindRateLimit, an expired call
// timeout as KindTimeout and any other failure as KindUpstream.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}

// NewProvider creates the provider named by config.DefaultProvider.
func NewProvider(ctx context.Context, config models.AIConfig, logger *zap.Logger) (Provider, error) {
	switch config.DefaultProvider {
	case "gemini", "":
		if config.Gemini.APIKey == "" {
			return nil, missingKey("gemini")
		}
		return NewGeminiREST(config.Gemini, config.Timeout, logger), nil
	case "gemini-sdk":
		if config.Gemini.APIKey == "" {
			return nil, missingKey("gemini-sdk")
		}
		return NewGeminiSDK(ctx, config.Gemini, config.Timeout, logger)
	case "openai":
		if config.OpenAI.APIKey == "" {
			return nil, missingKey("openai")
		}
		return NewOpenAIVision(config.OpenAI, config.Timeout, logger), nil
	}
	return nil, apperrors.New(apperrors.ErrConfigInvalid.Code, apperrors.KindConfig,
		fmt.Sprintf("unsupported AI provider: %s", config.DefaultProvider))
}

func missingKey(provider string) error {
	return apperrors.New(apperrors.ErrConfigInvalid.Code, apperrors.KindConfig,
		fmt.Sprintf("%s provider requires an API key", provider))
}

// contextError maps a failed call's context state onto the error taxonomy.
// It returns nil when the failure was not caused by a context.
func contextError(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout(err)
	}
	return nil
}
