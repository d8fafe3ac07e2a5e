package models

import "time"

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Log LogConfig `yaml:"log"`

	// AI config
	AI AIConfig `yaml:"ai"`

	Queue    QueueConfig    `yaml:"queue"`
	Matching MatchConfig    `yaml:"matching"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`

	// SupplierRegistry is a YAML file replacing the built-in registry
	SupplierRegistry string `yaml:"supplier_registry"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`

	// Default provider: "gemini", "gemini-sdk" or "openai"
	DefaultProvider string `yaml:"default_provider"`

	// Timeout bounds a single analysis call
	Timeout time.Duration `yaml:"timeout"`
	// CallAttempts is how often a timed out call is tried in total
	CallAttempts int `yaml:"call_attempts"`

	Generation GenerationConfig `yaml:"generation"`

	// PromptFile replaces the built-in prompt
	PromptFile string `yaml:"prompt_file"`
}

// GenerationConfig holds sampling parameters sent with every call
type GenerationConfig struct {
	Temperature     float32 `yaml:"temperature" json:"temperature"`
	TopK            int32   `yaml:"top_k" json:"topK"`
	TopP            float32 `yaml:"top_p" json:"topP"`
	MaxOutputTokens int32   `yaml:"max_output_tokens" json:"maxOutputTokens"`
}

// OpenAIConfig for OpenAI-compatible vision endpoints
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// QueueConfig tunes request serialization and rate-limit backoff
type QueueConfig struct {
	MinDelay    time.Duration `yaml:"min_delay"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// MatchConfig tunes supplier matching
type MatchConfig struct {
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`
	FallbackThreshold float64 `yaml:"fallback_threshold"`
	MinPartialLength  int     `yaml:"min_partial_length"`
}

// SinksConfig configures the spreadsheet webhooks
type SinksConfig struct {
	LedgerURL   string        `yaml:"ledger_url"`
	ProductsURL string        `yaml:"products_url"`
	Attempts    int           `yaml:"attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`

	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL is the lifetime of tokens issued by the CLI helper
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}
