package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/stargazer/internal/astro"
	"github.com/ashureev/stargazer/internal/domain"
	"github.com/ashureev/stargazer/internal/identity"
	"github.com/ashureev/stargazer/internal/prompt"
	"github.com/ashureev/stargazer/internal/transcript"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ReadingHandler handles the reading and follow-up endpoints.
type ReadingHandler struct {
	*Handler
}

// NewReadingHandler creates a new reading handler.
func NewReadingHandler(base *Handler) *ReadingHandler {
	return &ReadingHandler{Handler: base}
}

// RegisterRoutes registers reading routes.
func (h *ReadingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
	r.Get("/api/reading", h.GetReading)
	r.Delete("/api/reading", h.DeleteReading)

	// Generation endpoints are rate limited per user.
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/api/reading", h.StartReading)
		r.Post("/api/ask", h.Ask)
	})
}

type configResponse struct {
	Variant         prompt.Variant `json:"variant"`
	DateFormat      string         `json:"date_format"`
	HistoryMaxTurns int            `json:"history_max_turns"`
}

// GetConfig returns the active variant so the client knows which fields to collect.
func (h *ReadingHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, configResponse{
		Variant:         h.svc.Variant(),
		DateFormat:      "DD-MM-YYYY",
		HistoryMaxTurns: h.svc.HistoryMaxTurns(),
	})
}

type readingRequest struct {
	Name  string `json:"name"`
	DOB   string `json:"dob"`
	Place string `json:"place"`
}

type readingResponse struct {
	Variant          string               `json:"variant"`
	Profile          *domain.BirthProfile `json:"profile"`
	ZodiacSign       astro.Sign           `json:"zodiac_sign"`
	NumerologyNumber int                  `json:"numerology_number"`
	Prediction       string               `json:"prediction"`
	Turns            []domain.Turn        `json:"turns"`
	Messages         []domain.Message     `json:"messages"`
}

func newReadingResponse(s *domain.ConversationState) readingResponse {
	resp := readingResponse{
		Variant:  s.Variant,
		Profile:  s.Profile,
		Turns:    s.Turns,
		Messages: s.Messages(),
	}
	if s.Attributes != nil {
		resp.ZodiacSign = s.Attributes.ZodiacSign
		resp.NumerologyNumber = s.Attributes.NumerologyNumber
	}
	if s.Prediction != nil {
		resp.Prediction = s.Prediction.Text
	}
	return resp
}

// StartReading runs the pipeline for the submitted birth details.
func (h *ReadingHandler) StartReading(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	key := identity.SessionKeyFromContext(r.Context())
	ctx := transcript.WithOrigin(r.Context(), transcript.ChannelHTTP, chiMiddleware.GetReqID(r.Context()))

	state, err := h.svc.StartReading(ctx, key, req.Name, req.DOB, req.Place)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slog.Info("reading created", "user_id", key.UserID, "session_id", key.SessionID)
	JSON(w, http.StatusCreated, newReadingResponse(state))
}

// GetReading returns the session's current state.
func (h *ReadingHandler) GetReading(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Get(r.Context(), identity.SessionKeyFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if state == nil {
		Error(w, http.StatusNotFound, CodeNotFound, "no reading for this session")
		return
	}
	JSON(w, http.StatusOK, newReadingResponse(state))
}

// DeleteReading ends the session and discards its state.
func (h *ReadingHandler) DeleteReading(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	ctx := transcript.WithOrigin(r.Context(), transcript.ChannelHTTP, chiMiddleware.GetReqID(r.Context()))

	if err := h.svc.Reset(ctx, key); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.closeLiveSession(key)

	slog.Info("reading discarded", "user_id", key.UserID, "session_id", key.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	TurnID string        `json:"turn_id"`
	Answer string        `json:"answer"`
	Turns  []domain.Turn `json:"turns"`
}

// Ask answers a follow-up question.
func (h *ReadingHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	key := identity.SessionKeyFromContext(r.Context())
	ctx := transcript.WithOrigin(r.Context(), transcript.ChannelHTTP, chiMiddleware.GetReqID(r.Context()))

	turn, state, err := h.svc.Ask(ctx, key, req.Question)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, askResponse{
		TurnID: turn.ID,
		Answer: turn.Answer,
		Turns:  state.Turns,
	})
}
