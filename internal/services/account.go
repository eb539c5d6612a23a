package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/storage"
)

// AccountService serves the signed-in buyer's own subscription
type AccountService struct {
	subs   SubscriptionStore
	api    LicensingAPI
	logger *slog.Logger
}

// NewAccountService creates an account service
func NewAccountService(subs SubscriptionStore, api LicensingAPI, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &AccountService{
		subs:   subs,
		api:    api,
		logger: infrastructure.WithComponent(logger, "account_service"),
	}
}

// Subscription returns the mirrored subscription of discordID
func (s *AccountService) Subscription(ctx context.Context, discordID string) (*storage.Subscription, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, apierrors.ErrMissingParameter
	}

	sub, err := s.subs.Get(ctx, discordID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, apierrors.Database(err)
	}
	return sub, nil
}

// ResetHWID clears the hardware binding of discordID's license. Banned
// accounts are refused.
func (s *AccountService) ResetHWID(ctx context.Context, discordID string) (*storage.Subscription, error) {
	sub, err := s.Subscription(ctx, discordID)
	if err != nil {
		return nil, err
	}
	if sub.IsBanned {
		return nil, apierrors.ErrAccountBanned
	}

	if err := s.api.ResetHWID(ctx, sub.LRMSerial); err != nil {
		s.logger.ErrorContext(ctx, "HWID reset failed",
			slog.String("discord_id", sub.DiscordID),
			slog.String("error", err.Error()))
		return nil, apierrors.Upstream(err)
	}

	s.logger.InfoContext(ctx, "HWID reset", slog.String("discord_id", sub.DiscordID))
	return sub, nil
}
