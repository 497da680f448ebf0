package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-groupbuy/internal/common"
)

func identityProbe(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticateBearerToken(t *testing.T) {
	v := newTestVerifier(t, testNow)
	token, err := v.SignAccessToken("user-7", time.Minute)
	require.NoError(t, err)

	var seen string
	h := Middleware{Verifier: v, AllowGuests: true}.Authenticate(identityProbe(&seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(GuestHeader, "ignored")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "user-7", seen)
}

func TestAuthenticateGuestFallback(t *testing.T) {
	var seen string
	h := Middleware{Verifier: newTestVerifier(t, testNow), AllowGuests: true}.Authenticate(identityProbe(&seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(GuestHeader, " cart-123 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "guest:cart-123", seen)
}

func TestAuthenticateGuestsDisabled(t *testing.T) {
	var seen string
	h := Middleware{Verifier: newTestVerifier(t, testNow)}.Authenticate(identityProbe(&seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(GuestHeader, "cart-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Empty(t, seen)
}

func TestAuthenticateInvalidTokenIgnoresGuest(t *testing.T) {
	var seen string
	h := Middleware{Verifier: newTestVerifier(t, testNow), AllowGuests: true}.Authenticate(identityProbe(&seen))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer broken")
	req.Header.Set(GuestHeader, "cart-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Empty(t, seen)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	var seen string
	h := Middleware{Verifier: newTestVerifier(t, testNow)}.RequireAuth(identityProbe(&seen))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, seen)
}
