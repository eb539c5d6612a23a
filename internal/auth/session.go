// Package auth issues and verifies session tokens and admin credentials.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apierrors "obsidian/internal/errors"
)

// Role is the access level carried by a session
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Claims are the session token claims. Subject is the Discord id for user
// sessions and "admin" for the dashboard.
type Claims struct {
	DiscordID string `json:"discord_id,omitempty"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the session may use the admin API
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Sessions signs HS256 session tokens
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a token issuer
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a session for discordID with role
func (s *Sessions) Issue(discordID string, role Role) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	subject := discordID
	if role == RoleAdmin {
		subject = string(RoleAdmin)
	}

	claims := Claims{
		DiscordID: discordID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return token, expires, nil
}

// Parse verifies a token and returns its claims. Every failure maps to
// ErrInvalidSession.
func (s *Sessions) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierrors.ErrInvalidSession
	}
	if claims.Role != RoleUser && claims.Role != RoleAdmin {
		return nil, apierrors.ErrInvalidSession
	}
	if claims.Role == RoleUser && claims.DiscordID == "" {
		return nil, apierrors.ErrInvalidSession
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash suitable for the admin password setting
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword compares password with a bcrypt hash
func CheckPassword(hash, password string) error {
	if hash == "" || password == "" {
		return apierrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apierrors.ErrInvalidCredentials
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// SecretEqual compares a presented secret in constant time
func SecretEqual(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

type claimsKey struct{}

// WithClaims stores verified claims on the context
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by WithClaims
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
