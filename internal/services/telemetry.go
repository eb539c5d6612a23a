package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"obsidian/internal/config"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/kv"
)

const (
	telemetrySummaryKey = "telemetry:summary"
	telemetryScanBatch  = 500
)

// TelemetryEvent is one script execution report. Events are stored as set
// members, so identical reports within the same millisecond collapse.
type TelemetryEvent struct {
	Exec      string `json:"exec" validate:"required,max=64"`
	PlaceID   int64  `json:"placeid" validate:"gte=0"`
	GameID    int64  `json:"gameid" validate:"gte=0"`
	Timestamp int64  `json:"timestamp"`
}

// TelemetrySummary aggregates the stored events
type TelemetrySummary struct {
	Total         int64            `json:"total"`
	Malformed     int64            `json:"malformed"`
	ByExecutor    map[string]int64 `json:"by_executor"`
	ByGame        map[string]int64 `json:"by_game"`
	DistinctGames int              `json:"distinct_games"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// TelemetryService stores execution events and summarizes them
type TelemetryService struct {
	store    EventStore
	cacheTTL time.Duration
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewTelemetryService creates a telemetry service. Summaries are cached for
// cacheTTL; zero disables caching.
func NewTelemetryService(store EventStore, cacheTTL time.Duration, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *TelemetryService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	return &TelemetryService{
		store:    store,
		cacheTTL: cacheTTL,
		metrics:  metrics,
		logger:   infrastructure.WithComponent(logger, "telemetry_service"),
		now:      time.Now,
	}
}

// Record stamps ev and adds it to the events set. The set is never trimmed.
func (s *TelemetryService) Record(ctx context.Context, ev TelemetryEvent) (*TelemetryEvent, error) {
	ev.Timestamp = s.now().UnixMilli()

	member, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AddMember(ctx, config.TelemetrySetKey, string(member)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to store telemetry event", slog.String("error", err.Error()))
		return nil, apierrors.Store(err)
	}

	infrastructure.RecordTelemetryEvent(ctx, s.metrics, ev.Exec)
	return &ev, nil
}

// Count returns the number of stored events
func (s *TelemetryService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.SetSize(ctx, config.TelemetrySetKey)
	if err != nil {
		return 0, apierrors.Store(err)
	}
	return n, nil
}

// Summary scans every event and tallies them by executor and game
func (s *TelemetryService) Summary(ctx context.Context) (*TelemetrySummary, error) {
	if s.cacheTTL > 0 {
		var cached TelemetrySummary
		err := s.store.GetJSON(ctx, telemetrySummaryKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, kv.ErrMiss) {
			s.logger.WarnContext(ctx, "Telemetry summary cache read failed", slog.String("error", err.Error()))
		}
	}

	summary := &TelemetrySummary{
		ByExecutor:  make(map[string]int64),
		ByGame:      make(map[string]int64),
		GeneratedAt: s.now().UTC(),
	}
	err := s.store.ScanMembers(ctx, config.TelemetrySetKey, telemetryScanBatch, func(member string) error {
		var ev TelemetryEvent
		if err := json.Unmarshal([]byte(member), &ev); err != nil || ev.Exec == "" {
			summary.Malformed++
			return nil
		}
		summary.Total++
		summary.ByExecutor[ev.Exec]++
		summary.ByGame[strconv.FormatInt(ev.GameID, 10)]++
		return nil
	})
	if err != nil {
		return nil, apierrors.Store(err)
	}
	summary.DistinctGames = len(summary.ByGame)

	if s.cacheTTL > 0 {
		if err := s.store.SetJSON(ctx, telemetrySummaryKey, summary, s.cacheTTL); err != nil {
			s.logger.WarnContext(ctx, "Telemetry summary cache write failed", slog.String("error", err.Error()))
		}
	}
	return summary, nil
}
