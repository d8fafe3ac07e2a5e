package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

// OpenAIVision sends the image as a data URL to a chat-completions endpoint.
// BaseURL makes it usable with any compatible gateway.
type OpenAIVision struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAIVision(config models.OpenAIConfig, timeout time.Duration, logger *zap.Logger) *OpenAIVision {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIVision{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   config.Model,
		timeout: timeout,
		logger:  logger,
	}
}

func (o *OpenAIVision) Name() string { return "openai" }

func (o *OpenAIVision) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	dataURL := "data:" + req.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: req.Generation.Temperature,
		TopP:        req.Generation.TopP,
		MaxTokens:   int(req.Generation.MaxOutputTokens),
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
	})
	if err != nil {
		if ctxErr := contextError(ctx, callCtx, err); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyOpenAIError(err)
	}

	o.logger.Debug("Analysis call completed",
		zap.String("model", o.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("tokens", resp.Usage.TotalTokens))

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, apperrors.New(apperrors.ErrEmptyResponse.Code, apperrors.KindUpstream, apperrors.ErrEmptyResponse.Message)
	}

	usage := &models.Usage{
		PromptTokenCount:     int32(resp.Usage.PromptTokens),
		CandidatesTokenCount: int32(resp.Usage.CompletionTokens),
		TotalTokenCount:      int32(resp.Usage.TotalTokens),
	}
	if raw, err := json.Marshal(resp.Usage); err == nil {
		usage.Raw = raw
	}

	choice := resp.Choices[0]
	return &AnalysisResult{
		Text:         choice.Message.Content,
		Usage:        usage,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return apperrors.RateLimited(apiErr.HTTPStatusCode, apiErr.Message)
		}
		return apperrors.Upstream(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return apperrors.RateLimited(reqErr.HTTPStatusCode, reqErr.Error())
		}
		return apperrors.Upstream(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return apperrors.Wrap(err, apperrors.ErrUpstream.Code, apperrors.KindUpstream, "analysis call failed")
}
