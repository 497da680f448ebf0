package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-groupbuy/internal/common"
)

// GuestHeader carries an anonymous contributor identifier.
const GuestHeader = "X-Guest-ID"

const maxGuestIDLength = 64

var errNoToken = errors.New("auth: token missing")

// TokenParser resolves a bearer token to a subject.
type TokenParser interface {
	ParseAccessToken(token string) (string, error)
}

// Middleware wires contributor identity into HTTP handlers.
type Middleware struct {
	Verifier    TokenParser
	AllowGuests bool
}

// Authenticate attaches the contributor identifier to the request context when
// a valid token is present. Without a token, a guest header is accepted when
// guests are allowed. Invalid tokens pass through unauthenticated.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			if errors.Is(err, errNoToken) {
				if guest, ok := m.guestID(r); ok {
					ctx = common.WithUserID(r.Context(), guest)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				status := appErr.HTTPStatus
				if status == 0 {
					status = http.StatusUnauthorized
				}
				common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, error) {
	token := extractToken(r)
	if token == "" {
		return r.Context(), errNoToken
	}
	if m.Verifier == nil {
		return r.Context(), errors.New("auth: verifier not configured")
	}
	subject, err := m.Verifier.ParseAccessToken(token)
	if err != nil {
		return r.Context(), err
	}
	return common.WithUserID(r.Context(), subject), nil
}

func (m Middleware) guestID(r *http.Request) (string, bool) {
	if !m.AllowGuests {
		return "", false
	}
	id := strings.TrimSpace(r.Header.Get(GuestHeader))
	if id == "" || len(id) > maxGuestIDLength {
		return "", false
	}
	return "guest:" + id, true
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
