//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/stargazer/internal/astro"
	"github.com/ashureev/stargazer/internal/conversation"
	"github.com/ashureev/stargazer/internal/identity"
	"github.com/ashureev/stargazer/internal/llm"
	"github.com/ashureev/stargazer/internal/pipeline"
	"github.com/ashureev/stargazer/internal/prompt"
	"github.com/ashureev/stargazer/internal/store"
	"github.com/go-chi/chi/v5"
)

const testUser = "anon_0123456789abcdef0123456789abcdef"

type fakeCloser struct {
	mu     sync.Mutex
	closed []store.SessionKey
}

func (f *fakeCloser) CloseSession(key store.SessionKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, key)
}

type testServer struct {
	router http.Handler
	repo   *store.MemoryStore
	gen    *llm.Mock
	closer *fakeCloser
}

type serverOptions struct {
	gen         *llm.Mock
	limit       int
	maxBodySize int64
}

func newTestServer(t *testing.T, o serverOptions) *testServer {
	t.Helper()
	if o.gen == nil {
		o.gen = llm.NewMock()
	}
	if o.limit == 0 {
		o.limit = 100
	}
	if o.maxBodySize == 0 {
		o.maxBodySize = 1 << 16
	}

	repo := store.NewMemory()
	svc := conversation.NewService(repo, o.gen, prompt.NewBuilder(prompt.Love, 10),
		conversation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	limiter := NewRateLimiter(o.limit, time.Minute)
	t.Cleanup(limiter.Stop)
	closer := &fakeCloser{}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := identity.WithIdentity(req.Context(), testUser, req.Header.Get(identity.SessionHeaderName))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	base := NewHandler(svc, limiter, closer, o.maxBodySize)
	NewReadingHandler(base).RegisterRoutes(r)
	NewHealthHandler(repo, time.Second).RegisterHealth(r)

	return &testServer{router: r, repo: repo, gen: o.gen, closer: closer}
}

func (s *testServer) do(t *testing.T, method, path, session string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	if session != "" {
		req.Header.Set(identity.SessionHeaderName, session)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, w, &body)
	return body["error"]
}

var asha = map[string]string{"name": "Asha", "dob": "23-11-1995", "place": "Pune"}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestReadingLifecycle(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	w := s.do(t, http.MethodPost, "/api/reading", "tab-1", asha)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/reading = %d: %s", w.Code, w.Body)
	}
	var reading readingResponse
	decodeBody(t, w, &reading)
	if reading.ZodiacSign != astro.Sagittarius || reading.NumerologyNumber != 4 {
		t.Errorf("reading = %+v", reading)
	}
	if reading.Prediction == "" || len(reading.Turns) != 0 || len(reading.Messages) != 1 {
		t.Errorf("reading = %+v", reading)
	}

	w = s.do(t, http.MethodPost, "/api/ask", "tab-1", map[string]string{"question": "Will I marry soon?"})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/ask = %d: %s", w.Code, w.Body)
	}
	var ask askResponse
	decodeBody(t, w, &ask)
	if ask.Answer == "" || ask.TurnID == "" || len(ask.Turns) != 1 {
		t.Errorf("ask = %+v", ask)
	}

	w = s.do(t, http.MethodGet, "/api/reading", "tab-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/reading = %d", w.Code)
	}
	decodeBody(t, w, &reading)
	if len(reading.Turns) != 1 || len(reading.Messages) != 3 {
		t.Errorf("reading after ask = %+v", reading)
	}

	if w := s.do(t, http.MethodGet, "/api/reading", "tab-2", nil); w.Code != http.StatusNotFound {
		t.Errorf("other tab GET = %d, want 404", w.Code)
	}

	if w := s.do(t, http.MethodDelete, "/api/reading", "tab-1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE /api/reading = %d", w.Code)
	}
	if len(s.closer.closed) != 1 || s.closer.closed[0] != (store.SessionKey{UserID: testUser, SessionID: "tab-1"}) {
		t.Errorf("closed sessions = %+v", s.closer.closed)
	}
	if w := s.do(t, http.MethodGet, "/api/reading", "tab-1", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET after DELETE = %d, want 404", w.Code)
	}
}

func TestReadingErrors(t *testing.T) {
	tests := []struct {
		name       string
		gen        *llm.Mock
		setup      func(t *testing.T, s *testServer)
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:   "invalid date",
			method: http.MethodPost, path: "/api/reading",
			body:       map[string]string{"name": "Asha", "dob": "31-02-1990"},
			wantStatus: http.StatusBadRequest, wantCode: CodeInvalidDateFormat,
		},
		{
			name:   "malformed json",
			method: http.MethodPost, path: "/api/reading",
			body:       "{not json",
			wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest,
		},
		{
			name:   "ask before reading",
			method: http.MethodPost, path: "/api/ask",
			body:       map[string]string{"question": "when?"},
			wantStatus: http.StatusConflict, wantCode: CodeNoPrediction,
		},
		{
			name: "empty question",
			setup: func(t *testing.T, s *testServer) {
				s.do(t, http.MethodPost, "/api/reading", "tab", asha)
			},
			method: http.MethodPost, path: "/api/ask",
			body:       map[string]string{"question": "   "},
			wantStatus: http.StatusBadRequest, wantCode: CodeEmptyQuestion,
		},
		{
			name: "second reading",
			setup: func(t *testing.T, s *testServer) {
				s.do(t, http.MethodPost, "/api/reading", "tab", asha)
			},
			method: http.MethodPost, path: "/api/reading",
			body:       asha,
			wantStatus: http.StatusConflict, wantCode: CodeReadingExists,
		},
		{
			name:   "generation unavailable",
			gen:    llm.NewMockFunc(func(string) (string, error) { return "", llm.ErrGenerationUnavailable }),
			method: http.MethodPost, path: "/api/reading",
			body:       asha,
			wantStatus: http.StatusBadGateway, wantCode: CodeGenerationUnavailable,
		},
		{
			name:   "generation timeout",
			gen:    llm.NewMockFunc(func(string) (string, error) { return "", llm.ErrGenerationTimeout }),
			method: http.MethodPost, path: "/api/reading",
			body:       asha,
			wantStatus: http.StatusGatewayTimeout, wantCode: CodeGenerationTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, serverOptions{gen: tt.gen})
			if tt.setup != nil {
				tt.setup(t, s)
			}
			w := s.do(t, tt.method, tt.path, "tab", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body)
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestRequestBodyLimit(t *testing.T) {
	s := newTestServer(t, serverOptions{maxBodySize: 64})
	big := map[string]string{"name": strings.Repeat("x", 200), "dob": "23-11-1995"}
	w := s.do(t, http.MethodPost, "/api/reading", "tab", big)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if s.gen.Calls() != 0 {
		t.Errorf("generator called for oversized body")
	}
}

func TestRateLimitedGeneration(t *testing.T) {
	s := newTestServer(t, serverOptions{limit: 1})
	if w := s.do(t, http.MethodPost, "/api/reading", "tab-1", asha); w.Code != http.StatusCreated {
		t.Fatalf("first request = %d", w.Code)
	}
	w := s.do(t, http.MethodPost, "/api/reading", "tab-2", asha)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", w.Code)
	}
	if errorCode(t, w) != CodeRateLimited {
		t.Error("missing rate_limited code")
	}
	if w := s.do(t, http.MethodGet, "/api/reading", "tab-1", nil); w.Code != http.StatusOK {
		t.Errorf("reads must not be rate limited, got %d", w.Code)
	}
}

func TestGetConfig(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	w := s.do(t, http.MethodGet, "/api/config", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct {
		Variant struct {
			ID     string `json:"id"`
			Fields struct {
				Name  bool `json:"name"`
				Place bool `json:"place"`
			} `json:"fields"`
			Persona string `json:"persona"`
		} `json:"variant"`
		DateFormat      string `json:"date_format"`
		HistoryMaxTurns int    `json:"history_max_turns"`
	}
	decodeBody(t, w, &got)
	if got.Variant.ID != "love" || !got.Variant.Fields.Name || !got.Variant.Fields.Place {
		t.Errorf("variant = %+v", got.Variant)
	}
	if got.Variant.Persona != "" {
		t.Error("prompt templates must not be exposed")
	}
	if got.DateFormat != "DD-MM-YYYY" || got.HistoryMaxTurns != 10 {
		t.Errorf("config = %+v", got)
	}
}

type failingRepo struct {
	*store.MemoryStore
}

func (failingRepo) Ping(context.Context) error { return errors.New("disk gone") }

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		repo store.Repository
		want int
	}{
		{"healthy", store.NewMemory(), http.StatusOK},
		{"degraded", failingRepo{store.NewMemory()}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHealthHandler(tt.repo, time.Second).RegisterHealth(r)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	stageErr := &pipeline.StageError{Stage: pipeline.StageZodiac, Err: astro.ErrUnresolvedZodiac}
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("parse: %w", astro.ErrInvalidDateFormat), http.StatusBadRequest, CodeInvalidDateFormat},
		{stageErr, http.StatusUnprocessableEntity, CodeUnresolvedZodiac},
		{conversation.ErrSessionBusy, http.StatusConflict, CodeSessionBusy},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeGenerationTimeout},
		{context.Canceled, http.StatusRequestTimeout, CodeRequestCanceled},
		{fmt.Errorf("%w: %w", llm.ErrGenerationUnavailable, context.Canceled), http.StatusRequestTimeout, CodeRequestCanceled},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, code, _ := ErrorCode(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("ErrorCode(%v) = %d %s, want %d %s", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}

func TestErrorCodeCanceledGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := llm.NewResilient(llm.GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		return "", ctx.Err()
	}), llm.ResilientConfig{Timeout: time.Second, MaxRetries: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := gen.Generate(ctx, "prompt")
	if status, code, _ := ErrorCode(err); status != http.StatusRequestTimeout || code != CodeRequestCanceled {
		t.Errorf("ErrorCode(%v) = %d %s, want 408 %s", err, status, code, CodeRequestCanceled)
	}
}
