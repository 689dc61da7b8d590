package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// ResilientConfig bounds a single Generate call.
type ResilientConfig struct {
	Timeout    time.Duration // per attempt
	MaxRetries int           // extra attempts after a transient failure
	Backoff    time.Duration
}

// Resilient wraps a Generator with a per-attempt timeout, a bounded retry on
// transient failures, reply trimming and error classification. Every error it
// returns wraps ErrGenerationTimeout or ErrGenerationUnavailable, except a
// canceled caller context, which comes back as context.Canceled.
type Resilient struct {
	next   Generator
	cfg    ResilientConfig
	logger *slog.Logger
}

// NewResilient wraps next.
func NewResilient(next Generator, cfg ResilientConfig, logger *slog.Logger) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{next: next, cfg: cfg, logger: logger}
}

// Generate implements Generator.
func (r *Resilient) Generate(ctx context.Context, prompt string) (string, error) {
	attempts := 1 + r.cfg.MaxRetries
	for attempt := 1; ; attempt++ {
		start := time.Now()
		text, err := r.attempt(ctx, prompt)
		if err == nil {
			return text, nil
		}

		classified := classify(err)
		if errors.Is(classified, context.Canceled) {
			r.logger.Debug("text generation canceled", "attempt", attempt)
			return "", classified
		}
		if attempt >= attempts || !isTransient(err) || ctx.Err() != nil {
			r.logger.Error("text generation failed",
				"attempt", attempt,
				"elapsed_ms", time.Since(start).Milliseconds(),
				"error", err)
			return "", classified
		}

		r.logger.Warn("text generation failed, retrying",
			"attempt", attempt,
			"delay", r.cfg.Backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return "", classify(ctx.Err())
		case <-time.After(r.cfg.Backoff):
		}
	}
}

func (r *Resilient) attempt(ctx context.Context, prompt string) (string, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	text, err := r.next.Generate(actx, prompt)
	if err != nil {
		if actx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationUnavailable)
	}
	return text, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrGenerationTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
	case errors.Is(err, ErrGenerationUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrGenerationTimeout) {
		return true
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Temporary()
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}
