// Stargazer - star reading chat server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/stargazer/internal/api"
	"github.com/ashureev/stargazer/internal/config"
	"github.com/ashureev/stargazer/internal/conversation"
	"github.com/ashureev/stargazer/internal/identity"
	"github.com/ashureev/stargazer/internal/livechat"
	"github.com/ashureev/stargazer/internal/llm"
	"github.com/ashureev/stargazer/internal/middleware"
	"github.com/ashureev/stargazer/internal/probe"
	"github.com/ashureev/stargazer/internal/prompt"
	"github.com/ashureev/stargazer/internal/store"
	"github.com/ashureev/stargazer/internal/sweeper"
	"github.com/ashureev/stargazer/internal/transcript"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func openStore(cfg *config.Config) (store.Repository, error) {
	if cfg.StoreBackend == config.StoreSQLite {
		return store.NewSQLite(cfg.DBPath)
	}
	return store.NewMemory(), nil
}

func loadVariant(cfg config.ReadingConfig) (prompt.Variant, error) {
	registry := prompt.DefaultRegistry()
	if cfg.VariantsPath != "" {
		if err := registry.LoadFile(cfg.VariantsPath); err != nil {
			return prompt.Variant{}, err
		}
	}
	return registry.Get(cfg.Variant)
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.StoreBackend,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("store health check: %w", err)
	}
	slog.Info("Store connected", "backend", cfg.StoreBackend)

	variant, err := loadVariant(cfg.Reading)
	if err != nil {
		return fmt.Errorf("load reading variant: %w", err)
	}
	slog.Info("Reading variant selected", "variant", variant.ID, "history_max_turns", cfg.Reading.HistoryMaxTurns)

	gen, err := llm.New(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}

	transcripts, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcripts: %w", err)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Warn("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	svc := conversation.NewService(repo, gen, prompt.NewBuilder(variant, cfg.Reading.HistoryMaxTurns),
		conversation.WithLogger(logger),
		conversation.WithTranscript(transcripts),
	)
	sm := livechat.NewSessionManager()
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(svc, limiter, sm, cfg.MaxRequestBodySize)
	readingHandler := api.NewReadingHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	wsHandler := livechat.NewHandler(svc, sm, limiter, cfg.FrontendURL, cfg.IsDevelopment(), cfg.MaxRequestBodySize)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	readingHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// WebSocket chats are long lived (no WriteTimeout). Generation is bounded
	// by the LLM deadline instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	sweep := sweeper.New(repo, cfg.SessionTTL, cfg.SweepInterval,
		func(keys []store.SessionKey) {
			for _, key := range keys {
				sm.CloseSession(key)
			}
		},
		svc.Expired,
	)
	g.Go(func() error { return sweep.Run(gctx) })

	if cfg.GRPCHealthAddr != "" {
		hs := probe.New(repo, 15*time.Second, logger)
		g.Go(func() error { return hs.Serve(gctx, cfg.GRPCHealthAddr) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sm.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
