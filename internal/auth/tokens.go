package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/animehub/backend/internal/logging"
)

var (
	// ErrTokenInvalid indicates a bearer token failed signature, algorithm or claim checks.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrNoSecret indicates token signing or verification was requested without a secret.
	ErrNoSecret = errors.New("jwt secret not configured")
)

// Claims carries the operator identity of a bearer token.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 bearer tokens.
type Manager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewManager constructs a Manager. An empty secret is rejected.
func NewManager(secret, issuer string) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Manager{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

// Issue signs a token for subject that expires after ttl.
func (m *Manager) Issue(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject must be provided")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	now := m.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	logging.FromContext(ctx).Debug("issued token", "subject", subject, "expires_at", claims.ExpiresAt.Time)
	return signed, nil
}

// Verify parses token and returns its claims. Every failure wraps ErrTokenInvalid.
func (m *Manager) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

type ctxKey struct{}

// WithSubject stores the verified caller identity on the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, subject)
}

// SubjectFromContext returns the verified caller identity, or "" for anonymous callers.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ctxKey{}).(string)
	return subject
}
