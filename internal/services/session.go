package services

import (
	"context"
	"log/slog"
	"time"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
)

// Session is an issued bearer token
type Session struct {
	Token     string    `json:"token"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionService authenticates the admin and issues buyer sessions
type SessionService struct {
	sessions  *auth.Sessions
	adminHash string
	logger    *slog.Logger
}

// NewSessionService creates a session service checking logins against a
// bcrypt hash
func NewSessionService(sessions *auth.Sessions, adminPasswordHash string, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &SessionService{
		sessions:  sessions,
		adminHash: adminPasswordHash,
		logger:    infrastructure.WithComponent(logger, "session_service"),
	}
}

// AdminLogin issues an admin token when password matches
func (s *SessionService) AdminLogin(ctx context.Context, password string) (*Session, error) {
	if err := auth.CheckPassword(s.adminHash, password); err != nil {
		s.logger.WarnContext(ctx, "Admin login rejected")
		return nil, err
	}

	token, expires, err := s.sessions.Issue("", auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Admin login")
	return &Session{Token: token, Role: auth.RoleAdmin, ExpiresAt: expires}, nil
}

// Verify parses a bearer token into claims
func (s *SessionService) Verify(token string) (*auth.Claims, error) {
	return s.sessions.Parse(token)
}

// UserSession issues a user token for discordID. The storefront calls this
// through the admin API once it has verified the buyer's Discord login.
func (s *SessionService) UserSession(ctx context.Context, discordID string) (*Session, error) {
	if discordID == "" {
		return nil, apierrors.ErrMissingParameter
	}
	token, expires, err := s.sessions.Issue(discordID, auth.RoleUser)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "User session issued", slog.String("discord_id", discordID))
	return &Session{Token: token, Role: auth.RoleUser, ExpiresAt: expires}, nil
}
