package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("FRONTEND_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Errorf("StoreBackend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.Reading.Variant != "love" {
		t.Errorf("Variant = %q, want love", cfg.Reading.Variant)
	}
	if cfg.Reading.HistoryMaxTurns != 10 {
		t.Errorf("HistoryMaxTurns = %d, want 10", cfg.Reading.HistoryMaxTurns)
	}
	if cfg.LLM.Timeout != 30*time.Second || cfg.LLM.MaxRetries != 1 {
		t.Errorf("LLM timeout/retries = %v/%d", cfg.LLM.Timeout, cfg.LLM.MaxRetries)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode without FRONTEND_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TRANSCRIPT_ENABLED", "yes")
	t.Setenv("FRONTEND_URL", "https://stars.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreBackend != StoreSQLite {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.SessionTTL != 15*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.LLM.Model != "gemini-2.0-flash-001" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if !cfg.Transcript.Enabled {
		t.Error("expected transcripts enabled")
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown store", map[string]string{"STORE_BACKEND": "redis"}, "STORE_BACKEND"},
		{"gemini without key", map[string]string{"LLM_PROVIDER": "gemini", "GEMINI_API_KEY": ""}, "GEMINI_API_KEY"},
		{"vertex without project", map[string]string{"LLM_PROVIDER": "vertex", "GOOGLE_CLOUD_PROJECT": ""}, "GOOGLE_CLOUD_PROJECT"},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "oracle"}, "LLM_PROVIDER"},
		{"too many retries", map[string]string{"LLM_MAX_RETRIES": "9"}, "LLM_MAX_RETRIES"},
		{"negative history", map[string]string{"HISTORY_MAX_TURNS": "-1"}, "HISTORY_MAX_TURNS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLM_PROVIDER", "mock")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}
