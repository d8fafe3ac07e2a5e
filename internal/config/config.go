package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
)

// Defaults returns the configuration used when no file sets a value.
func Defaults() *models.Config {
	return &models.Config{
		Port: 8080,
		Host: "0.0.0.0",
		Log:  models.LogConfig{Level: "info"},
		AI: models.AIConfig{
			DefaultProvider: "gemini",
			Gemini: models.GeminiConfig{
				Model:   "gemini-2.0-flash-lite",
				BaseURL: "https://generativelanguage.googleapis.com/v1beta/models",
			},
			OpenAI: models.OpenAIConfig{
				Model: "gpt-4o-mini",
			},
			Timeout:      30 * time.Second,
			CallAttempts: 3,
			Generation: models.GenerationConfig{
				Temperature:     0.1,
				TopK:            32,
				TopP:            0.95,
				MaxOutputTokens: 2048,
			},
		},
		Queue: models.QueueConfig{
			MinDelay:    time.Second,
			BaseDelay:   time.Second,
			MaxDelay:    16 * time.Second,
			MaxJitter:   time.Second,
			MaxAttempts: 5,
		},
		Matching: models.MatchConfig{
			FuzzyThreshold:    0.85,
			FallbackThreshold: 0.80,
			MinPartialLength:  2,
		},
		Sinks: models.SinksConfig{
			Attempts:        3,
			RetryDelay:      time.Second,
			Timeout:         15 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Auth: models.AuthConfig{TokenTTL: 24 * time.Hour},
		Storage: models.StorageConfig{
			Bucket: "invoices",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*models.Config, error) {
	config := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, apperrors.KindConfig, "failed to parse config")
			}
		}
	}

	applyEnv(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *models.Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	setString(&config.Host, "HOST")
	setString(&config.Log.Level, "LOG_LEVEL")

	setString(&config.AI.DefaultProvider, "AI_PROVIDER")
	setString(&config.AI.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&config.AI.Gemini.Model, "GEMINI_MODEL")
	setString(&config.AI.Gemini.BaseURL, "GEMINI_BASE_URL")
	setString(&config.AI.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&config.AI.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&config.AI.OpenAI.Model, "OPENAI_MODEL")

	setString(&config.Sinks.LedgerURL, "LEDGER_WEBHOOK_URL")
	setString(&config.Sinks.ProductsURL, "PRODUCTS_WEBHOOK_URL")

	setString(&config.Auth.JWTSecret, "JWT_SECRET")
	setString(&config.Database.URL, "DATABASE_URL")
	setString(&config.SupplierRegistry, "SUPPLIER_REGISTRY")

	setString(&config.Storage.Endpoint, "MINIO_ENDPOINT")
	setString(&config.Storage.AccessKey, "MINIO_ACCESS_KEY")
	setString(&config.Storage.SecretKey, "MINIO_SECRET_KEY")
	setString(&config.Storage.Bucket, "MINIO_BUCKET")
	if ssl := os.Getenv("MINIO_USE_SSL"); ssl != "" {
		config.Storage.UseSSL = ssl == "true"
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(config *models.Config) error {
	invalid := func(format string, args ...any) error {
		return apperrors.New(apperrors.ErrConfigInvalid.Code, apperrors.KindConfig, fmt.Sprintf(format, args...))
	}

	switch config.AI.DefaultProvider {
	case "gemini", "gemini-sdk", "openai":
	default:
		return invalid("unknown ai provider %q", config.AI.DefaultProvider)
	}
	if config.AI.Timeout <= 0 {
		return invalid("ai.timeout must be positive")
	}
	if config.AI.CallAttempts < 1 {
		return invalid("ai.call_attempts must be at least 1")
	}
	if config.Queue.MaxAttempts < 1 {
		return invalid("queue.max_attempts must be at least 1")
	}
	if config.Queue.MinDelay < 0 || config.Queue.BaseDelay < 0 || config.Queue.MaxDelay < config.Queue.BaseDelay {
		return invalid("queue delays must be non-negative with max_delay >= base_delay")
	}
	if t := config.Matching.FuzzyThreshold; t <= 0 || t >= 1 {
		return invalid("matching.fuzzy_threshold must be in (0,1), got %v", t)
	}
	if t := config.Matching.FallbackThreshold; t <= 0 || t >= 1 {
		return invalid("matching.fallback_threshold must be in (0,1), got %v", t)
	}
	if config.Sinks.Attempts < 1 {
		return invalid("sinks.attempts must be at least 1")
	}
	return nil
}
