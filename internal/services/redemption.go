package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/license"
	"obsidian/internal/lrm"
	"obsidian/internal/notify"
	"obsidian/internal/storage"
)

// Redemption outcomes, used as a metrics label
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// RedemptionConfig carries the note tags and order prefixes redemption checks
type RedemptionConfig struct {
	PromoTags        []string
	ResellerPrefixes []string
}

// RedeemResult is returned for a successful redemption. Warnings list the
// local writes that failed after the licensing API was already updated.
type RedeemResult struct {
	Serial    string `json:"serial"`
	DiscordID string `json:"discord_id"`
	UserKey   string `json:"user_key"`
	// ExpiresAt is unix seconds, -1 for lifetime.
	ExpiresAt int64    `json:"expires_at"`
	Created   bool     `json:"created"`
	Message   string   `json:"message"`
	Warnings  []string `json:"warnings,omitempty"`
}

// RedemptionService links serials to licensing API accounts
type RedemptionService struct {
	keys     KeyStore
	subs     SubscriptionStore
	api      LicensingAPI
	notifier Notifier
	cfg      RedemptionConfig
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRedemptionService creates a redemption service. notifier is optional.
func NewRedemptionService(keys KeyStore, subs SubscriptionStore, api LicensingAPI, notifier Notifier, cfg RedemptionConfig, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *RedemptionService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &RedemptionService{
		keys:     keys,
		subs:     subs,
		api:      api,
		notifier: notifier,
		cfg:      cfg,
		metrics:  metrics,
		logger:   infrastructure.WithComponent(logger, "redemption_service"),
		now:      time.Now,
	}
}

// Redeem claims serial for the Discord account discordID.
//
// The licensing API record is created or extended before the local mirror and
// the key row are written. Those later writes are not rolled back against the
// upstream change: their failures are logged and reported as warnings.
func (s *RedemptionService) Redeem(ctx context.Context, serial, discordID string) (*RedeemResult, error) {
	start := s.now()
	result, err := s.redeem(ctx, serial, discordID)

	outcome := outcomeSuccess
	var apiErr *apierrors.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		outcome = outcomeRejected
	default:
		outcome = outcomeFailed
	}
	infrastructure.RecordRedemption(ctx, s.metrics, outcome, s.now().Sub(start))

	return result, err
}

func (s *RedemptionService) redeem(ctx context.Context, serial, discordID string) (*RedeemResult, error) {
	serial = license.NormalizeSerial(serial)
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, apierrors.ErrMissingParameter
	}
	logger := s.logger.With(slog.String("serial", serial), slog.String("discord_id", discordID))

	if err := license.ValidateSerial(serial); err != nil {
		return nil, apierrors.ErrSerialNotFound
	}

	key, err := s.keys.FindRedeemable(ctx, serial)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.ErrSerialNotFound
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to look up serial", slog.String("error", err.Error()))
		return nil, apierrors.Database(err)
	}

	users, err := s.api.GetUsersByDiscordID(ctx, discordID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to fetch licensing account", slog.String("error", err.Error()))
		return nil, apierrors.Upstream(err)
	}

	var existing *lrm.User
	for i := range users {
		u := users[i]
		if license.IsPromotional(u.Note, s.cfg.PromoTags) {
			if err := s.api.DeleteUser(ctx, u.UserKey); err != nil {
				logger.ErrorContext(ctx, "Failed to delete promotional record",
					slog.String("user_key", u.UserKey),
					slog.String("error", err.Error()))
				return nil, apierrors.Upstream(err)
			}
			logger.InfoContext(ctx, "Promotional record replaced", slog.String("user_key", u.UserKey))
			continue
		}
		if existing == nil {
			existing = &u
		}
	}

	if existing != nil && existing.Lifetime() {
		return nil, apierrors.ErrLifetimeAccount
	}

	now := s.now()
	var current *int64
	if existing != nil {
		current = &existing.AuthExpire
	}
	expiry := license.ComputeExpiry(now, current, key.DurationMinutes)

	result := &RedeemResult{
		Serial:    serial,
		DiscordID: discordID,
		ExpiresAt: expiry,
	}

	sub := storage.Subscription{
		DiscordID:  discordID,
		ExpiresAt:  int64Ptr(license.ToMillis(expiry)),
		UserStatus: "reset",
		LastSync:   now.UnixMilli(),
	}

	if existing == nil {
		userKey, err := s.api.CreateUser(ctx, lrm.CreateUserRequest{
			DiscordID:  discordID,
			AuthExpire: expiry,
			Note:       fmt.Sprintf("Serial %s", serial),
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to create licensing account", slog.String("error", err.Error()))
			return nil, apierrors.Upstream(err)
		}
		result.UserKey = userKey
		result.Created = true
	} else {
		err := s.api.UpdateUser(ctx, lrm.UpdateUserRequest{
			UserKey:    existing.UserKey,
			AuthExpire: expiry,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to extend licensing account", slog.String("error", err.Error()))
			return nil, apierrors.Upstream(err)
		}
		result.UserKey = existing.UserKey
		sub.IsBanned = existing.IsBanned()
		if existing.Status != "" {
			sub.UserStatus = existing.Status
		}
	}
	sub.LRMSerial = result.UserKey

	if err := s.subs.Upsert(ctx, sub); err != nil {
		logger.WarnContext(ctx, "Failed to mirror subscription", slog.String("error", err.Error()))
		result.Warnings = append(result.Warnings, "failed to save subscription: "+err.Error())
	}

	err = s.keys.Claim(ctx, serial, discordID, now)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.WarnContext(ctx, "Serial claimed concurrently")
		result.Warnings = append(result.Warnings, "serial was claimed by a concurrent redemption")
	case err != nil:
		logger.WarnContext(ctx, "Failed to mark serial claimed", slog.String("error", err.Error()))
		result.Warnings = append(result.Warnings, "failed to mark serial claimed: "+err.Error())
	}

	if reseller, ok := license.HasResellerPrefix(key.OrderID, s.cfg.ResellerPrefixes); ok && s.notifier != nil {
		s.notifier.SendAsync(ctx, notify.KindRedemption, notify.RedemptionEmbed(notify.Redemption{
			Serial:    serial,
			DiscordID: discordID,
			OrderID:   key.OrderID,
			Reseller:  reseller,
			ExpiresAt: expiry,
			At:        now,
		}))
	}

	result.Message = "License redeemed successfully"
	if len(result.Warnings) > 0 {
		result.Message = "License redeemed with warnings"
	}
	logger.InfoContext(ctx, "Serial redeemed",
		slog.String("user_key", result.UserKey),
		slog.Bool("created", result.Created),
		slog.Int64("expires_at", expiry),
		slog.Int("warnings", len(result.Warnings)))

	return result, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
