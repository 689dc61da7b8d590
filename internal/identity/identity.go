// Package identity resolves who is talking to the server: an anonymous
// device id carried in a cookie, and a per-tab session id chosen by the client.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/stargazer/internal/domain"
	"github.com/ashureev/stargazer/internal/store"
	"github.com/google/uuid"
)

const (
	AnonCookieName        = "stargazer_anon_id"
	SessionHeaderName     = "X-Stargazer-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
	anonPrefix            = "anon_"
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity is what the middleware attaches to every request.
type Identity struct {
	UserID    string
	Username  string
	SessionID string
}

// Key returns the conversation key for this identity.
func (id Identity) Key() store.SessionKey {
	return store.SessionKey{UserID: id.UserID, SessionID: id.SessionID}
}

type ctxKey struct{}

func fromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Identity{SessionID: DefaultSessionIDValue}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string { return fromContext(ctx).UserID }

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string { return fromContext(ctx).Username }

// SessionIDFromContext extracts the tab session ID, or "default".
func SessionIDFromContext(ctx context.Context) string { return fromContext(ctx).SessionID }

// SessionKeyFromContext returns the conversation key of the request.
func SessionKeyFromContext(ctx context.Context) store.SessionKey { return fromContext(ctx).Key() }

// WithIdentity returns a context carrying userID and sessionID, as the
// middleware would set them.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{
		UserID:    userID,
		Username:  deriveUsername(userID),
		SessionID: sanitizeSessionID(sessionID),
	})
}

func generateAnonID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return anonPrefix + strings.ReplaceAll(u.String(), "-", ""), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveUsername(userID string) string {
	if hex, ok := strings.CutPrefix(userID, anonPrefix); ok && len(hex) >= 8 {
		return "stargazer-" + hex[len(hex)-8:]
	}
	return "stargazer"
}

// ensureUser creates the user on first sight and refreshes last-seen otherwise.
func ensureUser(ctx context.Context, repo store.Repository, userID string, now time.Time) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user != nil {
		return repo.UpdateLastSeen(ctx, userID, now)
	}
	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   deriveUsername(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// anonID returns the device id from the cookie, minting a new one when the
// cookie is missing or malformed. The cookie is refreshed either way.
func anonID(w http.ResponseWriter, r *http.Request, secure bool) (string, error) {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else if id, err = generateAnonID(); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return id, nil
}

// Browsers cannot set headers on WebSocket upgrades, so the session id may
// also arrive as a query parameter.
func sessionIDFromRequest(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sid
	}
	return r.URL.Query().Get(SessionQueryParam)
}

// Middleware attaches an Identity to every request and records the user.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := anonID(w, r, !isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureUser(r.Context(), repo, userID, time.Now()); err != nil {
				slog.Error("failed to initialize anonymous user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote IP without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
