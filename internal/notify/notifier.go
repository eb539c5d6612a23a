// Package notify posts embeds to Discord channel webhooks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"obsidian/internal/config"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
)

// Kind names a notification channel
type Kind string

const (
	KindPurchase   Kind = "purchase"
	KindRedemption Kind = "redemption"
	KindChangelog  Kind = "changelog"
	KindSync       Kind = "sync"
)

type webhook struct {
	id    string
	token string
}

// ParseWebhookURL splits https://discord.com/api/webhooks/{id}/{token}
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid webhook url: missing /webhooks/{id}/{token}")
}

// Notifier delivers embeds to the configured webhooks
type Notifier struct {
	session *discordgo.Session
	hooks   map[Kind]webhook
	timeout time.Duration
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics
	wg      sync.WaitGroup
}

// Option customizes a Notifier
type Option func(*Notifier)

// WithHTTPClient replaces the HTTP client discordgo uses
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Notifier) {
		n.session.Client = hc
	}
}

// WithMetrics counts deliveries per kind
func WithMetrics(m *infrastructure.BusinessMetrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// New builds a notifier; kinds without a webhook URL are disabled
func New(cfg config.NotificationsConfig, logger *slog.Logger, opts ...Option) (*Notifier, error) {
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.MaxRestRetries = 1

	if logger == nil {
		logger = slog.Default()
	}

	n := &Notifier{
		session: session,
		hooks:   make(map[Kind]webhook),
		timeout: config.NotificationTimeout,
		logger:  infrastructure.WithComponent(logger, "notify"),
	}

	urls := map[Kind]string{
		KindPurchase:   cfg.PurchaseWebhook,
		KindRedemption: cfg.RedemptionWebhook,
		KindChangelog:  cfg.ChangelogWebhook,
		KindSync:       cfg.SyncWebhook,
	}
	for kind, raw := range urls {
		if raw == "" {
			continue
		}
		id, token, err := ParseWebhookURL(raw)
		if err != nil {
			return nil, fmt.Errorf("%s webhook: %w", kind, err)
		}
		n.hooks[kind] = webhook{id: id, token: token}
	}

	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Enabled reports whether kind has a webhook
func (n *Notifier) Enabled(kind Kind) bool {
	_, ok := n.hooks[kind]
	return ok
}

// Send delivers embed synchronously
func (n *Notifier) Send(ctx context.Context, kind Kind, embed *discordgo.MessageEmbed) error {
	hook, ok := n.hooks[kind]
	if !ok {
		return apierrors.ErrNotifierMissing
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err := n.session.WebhookExecute(hook.id, hook.token, false, &discordgo.WebhookParams{
		Username: config.AppName,
		Embeds:   []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))

	infrastructure.RecordWebhookDelivery(ctx, n.metrics, string(kind), err)
	if err != nil {
		return fmt.Errorf("discord %s webhook: %w", kind, err)
	}
	return nil
}

// SendAsync delivers embed in the background; failures are only logged.
// Disabled kinds are skipped silently.
func (n *Notifier) SendAsync(ctx context.Context, kind Kind, embed *discordgo.MessageEmbed) {
	if !n.Enabled(kind) {
		return
	}

	traceID := infrastructure.GetTraceID(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		bg := infrastructure.WithTraceID(context.Background(), traceID)
		if err := n.Send(bg, kind, embed); err != nil {
			n.logger.WarnContext(bg, "notification failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until background deliveries finish
func (n *Notifier) Wait() {
	n.wg.Wait()
}
