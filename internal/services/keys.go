package services

import (
	"context"
	"errors"
	"log/slog"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/license"
	"obsidian/internal/storage"
	ws "obsidian/internal/websocket"
)

// Key generation sources, used as a metrics label
const (
	SourceAdmin   = "admin"
	SourcePayment = "payment"
	SourceCLI     = "cli"
)

// GenerateRequest describes a batch of serials to issue
type GenerateRequest struct {
	OrderID string `json:"order_id" validate:"max=128"`
	Amount  int    `json:"amount"`
	// DurationMinutes is nil for lifetime serials.
	DurationMinutes *int `json:"duration_minutes,omitempty"`
}

// KeyService issues and audits serial keys
type KeyService struct {
	keys    KeyStore
	ledger  KeyLedger
	hub     WebSocketHub
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
}

// NewKeyService creates a key service. ledger and hub are optional.
func NewKeyService(keys KeyStore, ledger KeyLedger, hub WebSocketHub, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &KeyService{
		keys:    keys,
		ledger:  ledger,
		hub:     hub,
		metrics: metrics,
		logger:  infrastructure.WithComponent(logger, "key_service"),
	}
}

// Generate creates req.Amount serials in one transaction and returns them.
// A primary key collision is not retried and fails the whole batch.
func (s *KeyService) Generate(ctx context.Context, req GenerateRequest, source string) ([]storage.SerialKey, error) {
	if err := license.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := license.ValidateDuration(req.DurationMinutes); err != nil {
		return nil, err
	}

	serials, err := license.GenerateSerials(req.Amount)
	if err != nil {
		return nil, err
	}

	keys := make([]storage.SerialKey, len(serials))
	for i, serial := range serials {
		keys[i] = storage.SerialKey{
			Serial:          serial,
			OrderID:         req.OrderID,
			DurationMinutes: req.DurationMinutes,
		}
	}

	if err := s.keys.Insert(ctx, keys); err != nil {
		s.logger.ErrorContext(ctx, "Failed to insert keys",
			slog.Int("amount", req.Amount),
			slog.String("order_id", req.OrderID),
			slog.String("error", err.Error()))
		return nil, apierrors.Database(err)
	}

	infrastructure.RecordKeysGenerated(ctx, s.metrics, source, len(keys))
	s.logger.InfoContext(ctx, "Keys generated",
		slog.Int("amount", len(keys)),
		slog.String("order_id", req.OrderID),
		slog.String("source", source),
		slog.Bool("lifetime", req.DurationMinutes == nil))

	if s.ledger != nil {
		if err := s.ledger.AppendKeys(ctx, keys); err != nil {
			s.logger.WarnContext(ctx, "Failed to append keys to ledger",
				slog.String("order_id", req.OrderID),
				slog.String("error", err.Error()))
		}
	}

	if s.hub != nil {
		s.hub.Broadcast(ctx, ws.TypeKeysGenerated, map[string]interface{}{
			"amount":   len(keys),
			"order_id": req.OrderID,
			"source":   source,
		})
	}

	return keys, nil
}

// Get returns one key by serial
func (s *KeyService) Get(ctx context.Context, serial string) (*storage.SerialKey, error) {
	serial = license.NormalizeSerial(serial)
	if err := license.ValidateSerial(serial); err != nil {
		return nil, err
	}

	key, err := s.keys.Get(ctx, serial)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierrors.ErrKeyNotFound
	}
	if err != nil {
		return nil, apierrors.Database(err)
	}
	return key, nil
}

// List returns keys matching f, newest first
func (s *KeyService) List(ctx context.Context, f storage.KeyFilter) ([]storage.SerialKey, error) {
	keys, err := s.keys.List(ctx, f)
	if err != nil {
		return nil, apierrors.Database(err)
	}
	return keys, nil
}

// ListByOrder returns every key issued for an order
func (s *KeyService) ListByOrder(ctx context.Context, orderID string) ([]storage.SerialKey, error) {
	return s.List(ctx, storage.KeyFilter{OrderID: orderID})
}

// Delete removes a key. Claimed keys are kept for the audit trail.
func (s *KeyService) Delete(ctx context.Context, serial string) error {
	key, err := s.Get(ctx, serial)
	if err != nil {
		return err
	}
	if key.Claimed() {
		return apierrors.ErrKeyAlreadyLinked
	}

	err = s.keys.Delete(ctx, key.Serial)
	if errors.Is(err, storage.ErrNotFound) {
		return apierrors.ErrKeyNotFound
	}
	if err != nil {
		return apierrors.Database(err)
	}

	s.logger.InfoContext(ctx, "Key deleted", slog.String("serial", key.Serial))
	return nil
}

// Stats summarizes the keys table
func (s *KeyService) Stats(ctx context.Context) (storage.KeyStats, error) {
	stats, err := s.keys.Stats(ctx)
	if err != nil {
		return storage.KeyStats{}, apierrors.Database(err)
	}
	return stats, nil
}
