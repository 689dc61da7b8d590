package livechat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/stargazer/internal/api"
	"github.com/ashureev/stargazer/internal/conversation"
	"github.com/ashureev/stargazer/internal/domain"
	"github.com/ashureev/stargazer/internal/identity"
	"github.com/ashureev/stargazer/internal/store"
	"github.com/ashureev/stargazer/internal/transcript"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Inbound message types.
const (
	TypeAsk   = "ask"
	TypePing  = "ping"
	TypeState = "state"
	TypeReset = "reset"
)

// Outbound message types.
const (
	TypeAnswer = "answer"
	TypeError  = "error"
	TypePong   = "pong"
)

const writeTimeout = 10 * time.Second

// inbound is a client message.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// outbound is a server message.
type outbound struct {
	Type    string     `json:"type"`
	Content string     `json:"content,omitempty"`
	TurnID  string     `json:"turn_id,omitempty"`
	Code    string     `json:"code,omitempty"`
	State   *stateView `json:"state,omitempty"`
}

type stateView struct {
	Ready            bool             `json:"ready"`
	ZodiacSign       string           `json:"zodiac_sign,omitempty"`
	NumerologyNumber int              `json:"numerology_number,omitempty"`
	Messages         []domain.Message `json:"messages"`
}

func newStateView(s *domain.ConversationState) *stateView {
	if s == nil {
		return &stateView{Messages: []domain.Message{}}
	}
	v := &stateView{Ready: s.Ready(), Messages: s.Messages()}
	if s.Attributes != nil {
		v.ZodiacSign = string(s.Attributes.ZodiacSign)
		v.NumerologyNumber = s.Attributes.NumerologyNumber
	}
	return v
}

// Limiter gates generation requests per user.
type Limiter interface {
	Allow(key string) bool
}

// Handler upgrades /ws/chat requests and answers follow-ups on them.
type Handler struct {
	svc           *conversation.Service
	sm            *SessionManager
	limiter       Limiter
	allowedOrigin string
	isDev         bool
	readLimit     int64
}

// NewHandler creates a new WebSocket chat handler. limiter may be nil.
func NewHandler(svc *conversation.Service, sm *SessionManager, limiter Limiter, allowedOrigin string, isDev bool, readLimit int64) *Handler {
	return &Handler{
		svc:           svc,
		sm:            sm,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		readLimit:     readLimit,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", key.UserID, "session_id", key.SessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()
	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}

	h.sm.Register(key, ws)
	defer h.sm.Unregister(key, ws)

	ctx := r.Context()
	h.sendState(ctx, ws, key)
	h.readLoop(ctx, ws, key)
	slog.Info("Live chat ended", "user_id", key.UserID, "session_id", key.SessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, key store.SessionKey) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "user_id", key.UserID, "session_id", key.SessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}

		switch msg.Type {
		case TypeAsk:
			h.ask(ctx, ws, key, msg.Content)
		case TypeState:
			h.sendState(ctx, ws, key)
		case TypeReset:
			if err := h.svc.Reset(h.origin(ctx), key); err != nil {
				h.sendError(ctx, ws, err)
				continue
			}
			h.sendState(ctx, ws, key)
		case TypePing:
			h.write(ctx, ws, outbound{Type: TypePong})
		default:
			h.write(ctx, ws, outbound{Type: TypeError, Code: api.CodeBadRequest, Content: "unknown message type"})
		}
	}
}

func (h *Handler) ask(ctx context.Context, ws *websocket.Conn, key store.SessionKey, question string) {
	if h.limiter != nil && !h.limiter.Allow(key.UserID) {
		h.write(ctx, ws, outbound{Type: TypeError, Code: api.CodeRateLimited, Content: "too many requests, slow down"})
		return
	}

	turn, _, err := h.svc.Ask(h.origin(ctx), key, question)
	if err != nil {
		h.sendError(ctx, ws, err)
		return
	}
	h.write(ctx, ws, outbound{Type: TypeAnswer, TurnID: turn.ID, Content: turn.Answer})
}

// origin tags transcript events with the channel and a per-message id.
func (h *Handler) origin(ctx context.Context) context.Context {
	return transcript.WithOrigin(ctx, transcript.ChannelWebSocket, uuid.NewString())
}

func (h *Handler) sendState(ctx context.Context, ws *websocket.Conn, key store.SessionKey) {
	state, err := h.svc.Get(ctx, key)
	if err != nil {
		h.sendError(ctx, ws, err)
		return
	}
	h.write(ctx, ws, outbound{Type: TypeState, State: newStateView(state)})
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, err error) {
	_, code, message := api.ErrorCode(err)
	if code == api.CodeInternal {
		slog.Error("live chat request failed", "error", err)
	}
	h.write(ctx, ws, outbound{Type: TypeError, Code: code, Content: message})
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, msg outbound) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		slog.Debug("WebSocket write failed", "type", msg.Type, "error", err)
	}
}
