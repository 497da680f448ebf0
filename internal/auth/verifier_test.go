package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func buildToken(t *testing.T, mutate func(*jwt.Builder) *jwt.Builder) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer("groupbuy").
		Audience([]string{"shoppers"}).
		Subject("user-1").
		IssuedAt(testNow).
		NotBefore(testNow).
		Expiration(testNow.Add(time.Minute))
	if mutate != nil {
		b = mutate(b)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	return tok
}

func TestTokenValidatorValidate(t *testing.T) {
	validator := TokenValidator{Issuer: "groupbuy", Audience: "shoppers", ClockSkew: time.Second, Algorithm: jwa.HS256}

	cases := []struct {
		name    string
		mutate  func(*jwt.Builder) *jwt.Builder
		alg     jwa.SignatureAlgorithm
		wantErr bool
	}{
		{name: "valid", alg: jwa.HS256},
		{name: "issuer mismatch", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder) *jwt.Builder { return b.Issuer("other") }},
		{name: "expired", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder) *jwt.Builder {
			return b.NotBefore(testNow.Add(-2 * time.Hour)).Expiration(testNow.Add(-time.Minute))
		}},
		{name: "not yet valid", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder) *jwt.Builder {
			return b.NotBefore(testNow.Add(5 * time.Minute)).Expiration(testNow.Add(10 * time.Minute))
		}},
		{name: "missing subject", alg: jwa.HS256, wantErr: true, mutate: func(b *jwt.Builder) *jwt.Builder { return b.Subject("") }},
		{name: "algorithm mismatch", alg: jwa.RS256, wantErr: true},
		{name: "missing algorithm", alg: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Validate(buildToken(t, tc.mutate), tc.alg, testNow)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func newTestVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Secret:    "test-secret",
		Issuer:    "groupbuy",
		Audience:  "shoppers",
		ClockSkew: time.Second,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return v
}

func TestVerifierRoundTrip(t *testing.T) {
	v := newTestVerifier(t, testNow)
	token, err := v.SignAccessToken("user-42", time.Minute)
	require.NoError(t, err)

	subject, err := v.ParseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-42", subject)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	token, err := newTestVerifier(t, testNow).SignAccessToken("user-42", time.Minute)
	require.NoError(t, err)

	_, err = newTestVerifier(t, testNow.Add(time.Hour)).ParseAccessToken(token)
	require.Error(t, err)
}

func TestVerifierRejectsForeignSecret(t *testing.T) {
	other, err := NewVerifier(VerifierConfig{Secret: "other", Issuer: "groupbuy", Audience: "shoppers", Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	token, err := other.SignAccessToken("user-42", time.Minute)
	require.NoError(t, err)

	_, err = newTestVerifier(t, testNow).ParseAccessToken(token)
	require.Error(t, err)
}

func TestVerifierRejectsGarbage(t *testing.T) {
	v := newTestVerifier(t, testNow)
	_, err := v.ParseAccessToken("not-a-token")
	require.Error(t, err)
	_, err = v.ParseAccessToken("   ")
	require.Error(t, err)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	require.Error(t, err)
}
