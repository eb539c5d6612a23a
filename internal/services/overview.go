package services

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"obsidian/internal/infrastructure"
	"obsidian/internal/storage"
)

// Overview is the admin dashboard landing data
type Overview struct {
	Keys            storage.KeyStats `json:"keys"`
	TelemetryEvents int64            `json:"telemetry_events"`
	Sync            *SyncState       `json:"sync"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// OverviewService gathers dashboard figures in parallel
type OverviewService struct {
	keys      *KeyService
	telemetry *TelemetryService
	sync      *SyncService
	logger    *slog.Logger
}

// NewOverviewService creates an overview service
func NewOverviewService(keys *KeyService, telemetry *TelemetryService, sync *SyncService, logger *slog.Logger) *OverviewService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &OverviewService{
		keys:      keys,
		telemetry: telemetry,
		sync:      sync,
		logger:    infrastructure.WithComponent(logger, "overview_service"),
	}
}

// Get runs the key, telemetry and sync reads concurrently; the first failure
// cancels the rest.
func (s *OverviewService) Get(ctx context.Context) (*Overview, error) {
	out := &Overview{GeneratedAt: time.Now().UTC()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats, err := s.keys.Stats(gctx)
		out.Keys = stats
		return err
	})
	g.Go(func() error {
		n, err := s.telemetry.Count(gctx)
		out.TelemetryEvents = n
		return err
	})
	g.Go(func() error {
		state, err := s.sync.State(gctx)
		out.Sync = state
		return err
	})

	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "Overview failed", slog.String("error", err.Error()))
		return nil, err
	}
	return out, nil
}
