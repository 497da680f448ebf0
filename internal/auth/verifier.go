package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-groupbuy/internal/common"
)

// TokenValidator checks the claims of a parsed token against a clock.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Validate ensures the token carries a subject and satisfies issuer, audience,
// expiry and algorithm requirements at now.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	if algorithm == "" {
		return errors.New("auth: token missing algorithm")
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}
	if strings.TrimSpace(tok.Subject()) == "" {
		return errors.New("auth: token missing subject")
	}

	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	return jwt.Validate(tok, options...)
}

// VerifierConfig describes the accepted bearer tokens.
type VerifierConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// Verifier turns bearer tokens into contributor identifiers. Tokens are issued
// elsewhere; only verification happens here.
type Verifier struct {
	secret    []byte
	validator TokenValidator
	now       func() time.Time
}

// NewVerifier constructs a Verifier for HS256 tokens.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		validator: TokenValidator{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			ClockSkew: cfg.ClockSkew,
			Algorithm: jwa.HS256,
		},
		now: now,
	}, nil
}

// ParseAccessToken verifies the token and returns its subject.
func (v *Verifier) ParseAccessToken(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	if v.validator.Algorithm != "" && algorithm != v.validator.Algorithm {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	if err := v.validator.Validate(parsed, algorithm, v.now()); err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	return strings.TrimSpace(parsed.Subject()), nil
}

// SignAccessToken issues a token for subject. It exists for local tooling and
// tests; production tokens come from the identity provider.
func (v *Verifier) SignAccessToken(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		NotBefore(now.Add(-v.validator.ClockSkew)).
		Expiration(now.Add(ttl))
	if v.validator.Issuer != "" {
		builder = builder.Issuer(v.validator.Issuer)
	}
	if v.validator.Audience != "" {
		builder = builder.Audience([]string{v.validator.Audience})
	}
	token, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
