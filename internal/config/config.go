// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderVertex = "vertex"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	CORSOrigins   []string
	StoreBackend  string
	DBPath        string
	SessionTTL    time.Duration
	SweepInterval time.Duration

	Reading    ReadingConfig
	LLM        LLMConfig
	RateLimit  RateLimitConfig
	Transcript TranscriptConfig

	MaxRequestBodySize int64
	GRPCHealthAddr     string // empty disables the gRPC health listener
}

// ReadingConfig selects the prompt variant and history policy.
type ReadingConfig struct {
	Variant         string
	VariantsPath    string // optional YAML file with extra or overriding variants
	HistoryMaxTurns int
}

// LLMConfig configures the text generation backend.
type LLMConfig struct {
	Provider   string
	Model      string
	APIKey     string
	Project    string
	Location   string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// RateLimitConfig bounds generation requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TranscriptConfig controls NDJSON conversation transcripts.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderMock))

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		CORSOrigins:   getEnvList("CORS_ORIGINS", []string{"*"}),
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		DBPath:        getEnv("DB_PATH", "./data/stargazer.db"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		Reading: ReadingConfig{
			Variant:         getEnv("READING_VARIANT", "love"),
			VariantsPath:    getEnv("PROMPT_VARIANTS_PATH", ""),
			HistoryMaxTurns: getEnvInt("HISTORY_MAX_TURNS", 10),
		},
		LLM: LLMConfig{
			Provider:   provider,
			Model:      getEnv("LLM_MODEL", defaultModel(provider)),
			APIKey:     apiKeyFor(provider),
			Project:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
			Location:   getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),
			BaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Timeout:    getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvInt("LLM_MAX_RETRIES", 1),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<16)),
		GRPCHealthAddr:     getEnv("GRPC_HEALTH_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty with the sqlite store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StoreSQLite, c.StoreBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Reading.Variant == "" {
		return fmt.Errorf("READING_VARIANT cannot be empty")
	}
	if c.Reading.HistoryMaxTurns < 0 {
		return fmt.Errorf("HISTORY_MAX_TURNS must be >= 0")
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return nil
}

// Validate checks the provider-specific settings.
func (l LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderMock:
	case ProviderGemini:
		if l.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case ProviderVertex:
		if l.Project == "" || l.Location == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION are required for the vertex provider")
		}
	case ProviderOpenAI:
		if l.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		if l.BaseURL == "" {
			return fmt.Errorf("OPENAI_BASE_URL cannot be empty")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", l.Provider)
	}
	if l.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if l.MaxRetries < 0 || l.MaxRetries > 3 {
		return fmt.Errorf("LLM_MAX_RETRIES must be between 0 and 3")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderGemini, ProviderVertex:
		return "gemini-2.0-flash-001"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "mock"
	}
}

func apiKeyFor(provider string) string {
	if provider == ProviderOpenAI {
		return getEnv("OPENAI_API_KEY", "")
	}
	return getEnv("GEMINI_API_KEY", "")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
