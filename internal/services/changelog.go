package services

import (
	"context"
	"log/slog"
	"time"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/notify"
)

// ChangelogRequest is a release announcement
type ChangelogRequest struct {
	Version string   `json:"version" validate:"required,max=32"`
	Changes []string `json:"changes" validate:"required,min=1,max=25,dive,required,max=256"`
}

// ChangelogService posts release announcements to the changelog channel
type ChangelogService struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewChangelogService creates a changelog service
func NewChangelogService(notifier Notifier, logger *slog.Logger) *ChangelogService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &ChangelogService{
		notifier: notifier,
		logger:   infrastructure.WithComponent(logger, "changelog_service"),
	}
}

// Announce delivers the changelog synchronously so the caller sees failures
func (s *ChangelogService) Announce(ctx context.Context, req ChangelogRequest) error {
	if s.notifier == nil || !s.notifier.Enabled(notify.KindChangelog) {
		return apierrors.ErrNotifierMissing
	}
	if err := s.notifier.Send(ctx, notify.KindChangelog, notify.ChangelogEmbed(req.Version, req.Changes, time.Now())); err != nil {
		return apierrors.Upstream(err)
	}
	s.logger.InfoContext(ctx, "Changelog announced",
		slog.String("version", req.Version),
		slog.Int("changes", len(req.Changes)))
	return nil
}
