// Package auth validates bearer tokens and carries the caller's identity
// through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Role is the caller's role in the clinic.
type Role string

const (
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleAdmin        Role = "admin"
)

// Principal is the authenticated caller. Handlers receive it explicitly
// from the request context.
type Principal struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	DoctorID string `json:"doctor_id,omitempty"`
	// Token is the raw bearer token, forwarded to the REST backend.
	Token string `json:"-"`
}

// Claims are the JWT claims issued by the backend.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	DoctorID string `json:"doctor_id,omitempty"`
}

// Config holds token validation settings
type Config struct {
	Secret []byte
	Issuer string
	// Leeway tolerates clock skew between us and the issuer.
	Leeway time.Duration
}

// Validator parses HS256 tokens signed with a shared secret.
type Validator struct {
	config Config
	parser *jwt.Parser
}

// NewValidator creates a new validator
func NewValidator(cfg Config) (*Validator, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &Validator{config: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Parse validates raw and returns the principal it names.
func (v *Validator) Parse(raw string) (Principal, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.config.Secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Principal{}, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return Principal{UserID: userID, Role: claims.Role, DoctorID: claims.DoctorID, Token: raw}, nil
}

// Issue signs a token for p. It is used by tests and by rxctl for local
// development.
func (v *Validator) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   p.UserID,
		Role:     p.Role,
		DoctorID: p.DoctorID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.config.Secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

type contextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
