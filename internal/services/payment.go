package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/license"
	"obsidian/internal/notify"
	"obsidian/internal/storage"
)

// EventOrderPaid is the only payment event that issues keys
const EventOrderPaid = "order:paid"

// PaymentEvent is the payment provider's webhook body
type PaymentEvent struct {
	Event     string          `json:"event" validate:"required"`
	OrderID   string          `json:"order_id" validate:"required_if=Event order:paid,max=128"`
	ProductID string          `json:"product_id" validate:"required_if=Event order:paid"`
	Quantity  int             `json:"quantity"`
	Email     string          `json:"email" validate:"omitempty,email"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency" validate:"omitempty,len=3"`
}

// PaymentResult is returned to the provider, which delivers the serials
type PaymentResult struct {
	OrderID   string   `json:"order_id,omitempty"`
	Serials   []string `json:"serials,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
	Ignored   bool     `json:"ignored,omitempty"`
}

// KeyIssuer generates keys and finds those already issued for an order
type KeyIssuer interface {
	Generate(ctx context.Context, req GenerateRequest, source string) ([]storage.SerialKey, error)
	ListByOrder(ctx context.Context, orderID string) ([]storage.SerialKey, error)
}

// PaymentService turns paid orders into serial keys
type PaymentService struct {
	keys     KeyIssuer
	notifier Notifier
	products map[string]int
	logger   *slog.Logger
	now      func() time.Time
}

// NewPaymentService creates a payment service. products maps a provider
// product id to key minutes, 0 meaning lifetime. notifier is optional.
func NewPaymentService(keys KeyIssuer, notifier Notifier, products map[string]int, logger *slog.Logger) *PaymentService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &PaymentService{
		keys:     keys,
		notifier: notifier,
		products: products,
		logger:   infrastructure.WithComponent(logger, "payment_service"),
		now:      time.Now,
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature of the raw body
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return apierrors.ErrInvalidSignature
	}
	presented, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(presented) == 0 {
		return apierrors.ErrInvalidSignature
	}
	expected, _ := hex.DecodeString(Sign(secret, body))
	if !hmac.Equal(presented, expected) {
		return apierrors.ErrInvalidSignature
	}
	return nil
}

// HandleEvent issues keys for a paid order. Redelivered events for an order
// that already has keys return those keys instead of issuing new ones.
func (s *PaymentService) HandleEvent(ctx context.Context, ev PaymentEvent) (*PaymentResult, error) {
	if ev.Event != EventOrderPaid {
		s.logger.InfoContext(ctx, "Ignoring payment event", slog.String("event", ev.Event))
		return &PaymentResult{OrderID: ev.OrderID, Ignored: true}, nil
	}

	duration, err := license.ResolveProduct(s.products, ev.ProductID)
	if err != nil {
		s.logger.WarnContext(ctx, "Paid order for unknown product",
			slog.String("order_id", ev.OrderID),
			slog.String("product_id", ev.ProductID))
		return nil, err
	}

	existing, err := s.keys.ListByOrder(ctx, ev.OrderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		s.logger.InfoContext(ctx, "Duplicate payment delivery",
			slog.String("order_id", ev.OrderID),
			slog.Int("keys", len(existing)))
		return &PaymentResult{OrderID: ev.OrderID, Serials: serialsOf(existing), Duplicate: true}, nil
	}

	keys, err := s.keys.Generate(ctx, GenerateRequest{
		OrderID:         ev.OrderID,
		Amount:          ev.Quantity,
		DurationMinutes: duration,
	}, SourcePayment)
	if err != nil {
		return nil, err
	}
	serials := serialsOf(keys)

	if s.notifier != nil && s.notifier.Enabled(notify.KindPurchase) {
		s.notifier.SendAsync(ctx, notify.KindPurchase, notify.PurchaseEmbed(notify.Purchase{
			OrderID:  ev.OrderID,
			Product:  ev.ProductID,
			Email:    ev.Email,
			Quantity: ev.Quantity,
			Total:    ev.Total,
			Currency: ev.Currency,
			Serials:  serials,
			At:       s.now(),
		}))
	}

	s.logger.InfoContext(ctx, "Paid order fulfilled",
		slog.String("order_id", ev.OrderID),
		slog.String("product_id", ev.ProductID),
		slog.Int("quantity", ev.Quantity),
		slog.String("total", ev.Total.StringFixed(2)))

	return &PaymentResult{OrderID: ev.OrderID, Serials: serials}, nil
}

func serialsOf(keys []storage.SerialKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Serial
	}
	return out
}
