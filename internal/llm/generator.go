// Package llm adapts hosted language models to the Generator port.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/stargazer/internal/config"
)

var (
	// ErrGenerationUnavailable means the model could not produce a reply.
	ErrGenerationUnavailable = errors.New("text generation unavailable")
	// ErrGenerationTimeout means the model did not reply in time.
	ErrGenerationTimeout = errors.New("text generation timed out")
)

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ProviderError is a failed call to a model provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the call may succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// New builds the configured provider wrapped with timeout and retry handling.
func New(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		base Generator
		err  error
	)
	switch cfg.Provider {
	case config.ProviderGemini, config.ProviderVertex:
		base, err = NewGeminiClient(ctx, cfg)
	case config.ProviderOpenAI:
		base = NewOpenAIClient(cfg)
	case config.ProviderMock:
		base = NewMock()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("LLM provider initialized", "provider", cfg.Provider, "model", cfg.Model)

	return NewResilient(base, ResilientConfig{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}, logger), nil
}
