package services

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"obsidian/internal/config"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/infrastructure"
	"obsidian/internal/license"
	"obsidian/internal/notify"
	"obsidian/internal/storage"
	ws "obsidian/internal/websocket"
)

// CronSyncJob names the scheduled sync checkpoint in cron_state
const CronSyncJob = "sync"

// BatchResult reports one sync window
type BatchResult struct {
	Step     int   `json:"step"`
	NextStep int   `json:"next_step"`
	Fetched  int   `json:"fetched"`
	Mirrored int   `json:"mirrored"`
	Updated  int64 `json:"updated"`
	Complete bool  `json:"complete"`
}

// StatusCode is 206 while more windows remain and 200 once the run is complete
func (r *BatchResult) StatusCode() int {
	if r.Complete {
		return http.StatusOK
	}
	return http.StatusPartialContent
}

// RunReport summarizes a loop over all windows
type RunReport struct {
	StartStep int           `json:"start_step"`
	LastStep  int           `json:"last_step"`
	Batches   int           `json:"batches"`
	Updated   int64         `json:"updated"`
	Complete  bool          `json:"complete"`
	Duration  time.Duration `json:"duration_ns"`
	Shared    bool          `json:"shared"`
}

// SyncState describes the mirror for the dashboard
type SyncState struct {
	Cron          storage.CronState `json:"cron"`
	Running       bool              `json:"running"`
	Subscriptions int64             `json:"subscriptions"`
	Window        int               `json:"window"`
}

// SyncService mirrors licensing API users into the local subscriptions table
type SyncService struct {
	api      LicensingAPI
	subs     SubscriptionStore
	cron     CronStateStore
	hub      WebSocketHub
	notifier Notifier

	window    int
	pause     time.Duration
	promoTags []string

	group   singleflight.Group
	running atomic.Bool

	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewSyncService creates a sync service. hub and notifier are optional.
func NewSyncService(api LicensingAPI, subs SubscriptionStore, cron CronStateStore, hub WebSocketHub, notifier Notifier, cfg config.SyncConfig, promoTags []string, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if metrics == nil {
		metrics = infrastructure.NoopBusinessMetrics()
	}
	window := cfg.Window
	if window < config.MinSyncWindow || window > config.MaxSyncWindow {
		window = config.MinSyncWindow
	}
	return &SyncService{
		api:       api,
		subs:      subs,
		cron:      cron,
		hub:       hub,
		notifier:  notifier,
		window:    window,
		pause:     cfg.BatchPause,
		promoTags: promoTags,
		metrics:   metrics,
		logger:    infrastructure.WithComponent(logger, "sync_service"),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Running reports whether a full run is in progress
func (s *SyncService) Running() bool {
	return s.running.Load()
}

// RunBatch mirrors window number step. Records without a Discord id and
// promotional records are skipped; unchanged rows are not rewritten.
func (s *SyncService) RunBatch(ctx context.Context, step int) (*BatchResult, error) {
	if step < 0 {
		return nil, apierrors.NewValidationError("step must not be negative")
	}

	from := step * s.window
	users, err := s.api.ListUsers(ctx, from, from+s.window)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to fetch users window",
			slog.Int("step", step),
			slog.String("error", err.Error()))
		return nil, apierrors.Upstream(err)
	}

	rows := make([]storage.Subscription, 0, len(users))
	for _, u := range users {
		if u.DiscordID == "" || license.IsPromotional(u.Note, s.promoTags) {
			continue
		}
		rows = append(rows, storage.Subscription{
			DiscordID:  u.DiscordID,
			LRMSerial:  u.UserKey,
			ExpiresAt:  int64Ptr(license.ToMillis(u.AuthExpire)),
			IsBanned:   u.IsBanned(),
			UserStatus: u.Status,
		})
	}

	updated, err := s.subs.BulkUpsert(ctx, rows, s.now().UnixMilli())
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to upsert subscriptions",
			slog.Int("step", step),
			slog.Int("rows", len(rows)),
			slog.String("error", err.Error()))
		return nil, apierrors.Database(err)
	}

	result := &BatchResult{
		Step:     step,
		NextStep: step + 1,
		Fetched:  len(users),
		Mirrored: len(rows),
		Updated:  updated,
		Complete: len(users) < s.window,
	}
	if result.Complete {
		result.NextStep = 0
	}

	status := "partial"
	if result.Complete {
		status = "complete"
	}
	infrastructure.RecordSyncBatch(ctx, s.metrics, status, updated)
	s.logger.InfoContext(ctx, "Sync batch finished",
		slog.Int("step", step),
		slog.Int("fetched", result.Fetched),
		slog.Int("mirrored", result.Mirrored),
		slog.Int64("updated", updated),
		slog.Bool("complete", result.Complete))

	return result, nil
}

// RunAll loops over every window from step 0. Concurrent callers share the
// single run in flight and receive its report.
func (s *SyncService) RunAll(ctx context.Context) (*RunReport, error) {
	v, err, shared := s.group.Do("run-all", func() (interface{}, error) {
		if !s.running.CompareAndSwap(false, true) {
			return nil, apierrors.ErrSyncInProgress
		}
		defer s.running.Store(false)
		return s.loop(ctx, 0, nil)
	})
	if v == nil {
		return nil, err
	}

	report := *v.(*RunReport)
	report.Shared = shared
	return &report, err
}

// RunScheduled resumes from the persisted checkpoint and loops until the
// mirror is complete or ctx ends. The checkpoint is saved after every window
// and reset to 0 on completion.
func (s *SyncService) RunScheduled(ctx context.Context) (*RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, apierrors.ErrSyncInProgress
	}
	defer s.running.Store(false)

	state, err := s.cron.Get(ctx, CronSyncJob)
	if err != nil {
		return nil, apierrors.Database(err)
	}

	return s.loop(ctx, state.LastStep, func(next int) error {
		if err := s.cron.SaveStep(ctx, CronSyncJob, next); err != nil {
			return apierrors.Database(err)
		}
		return nil
	})
}

func (s *SyncService) loop(ctx context.Context, start int, checkpoint func(next int) error) (*RunReport, error) {
	began := s.now()
	report := &RunReport{StartStep: start, LastStep: start}

	fail := func(err error) (*RunReport, error) {
		report.Duration = s.now().Sub(began)
		s.broadcast(ctx, ws.TypeSyncError, map[string]interface{}{
			"step":  report.LastStep,
			"error": err.Error(),
		})
		s.report(ctx, report, err)
		return report, err
	}

	for step := start; ; step++ {
		report.LastStep = step
		res, err := s.RunBatch(ctx, step)
		if err != nil {
			return fail(err)
		}
		report.Batches++
		report.Updated += res.Updated

		if checkpoint != nil {
			if err := checkpoint(res.NextStep); err != nil {
				return fail(err)
			}
		}

		if res.Complete {
			report.Complete = true
			break
		}
		s.broadcast(ctx, ws.TypeSyncProgress, res)

		if err := s.sleep(ctx, s.pause); err != nil {
			return fail(err)
		}
	}

	report.Duration = s.now().Sub(began)
	s.broadcast(ctx, ws.TypeSyncComplete, report)
	s.report(ctx, report, nil)
	s.logger.InfoContext(ctx, "Sync run complete",
		slog.Int("start_step", report.StartStep),
		slog.Int("batches", report.Batches),
		slog.Int64("updated", report.Updated),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func (s *SyncService) broadcast(ctx context.Context, messageType string, data interface{}) {
	if s.hub != nil {
		s.hub.Broadcast(ctx, messageType, data)
	}
}

func (s *SyncService) report(ctx context.Context, r *RunReport, err error) {
	if s.notifier == nil || !s.notifier.Enabled(notify.KindSync) {
		return
	}
	s.notifier.SendAsync(ctx, notify.KindSync, notify.SyncEmbed(notify.SyncReport{
		Batches:  r.Batches,
		Rows:     r.Updated,
		Duration: r.Duration,
		Err:      err,
		At:       s.now(),
	}))
}

// State returns the scheduled checkpoint and mirror size
func (s *SyncService) State(ctx context.Context) (*SyncState, error) {
	state, err := s.cron.Get(ctx, CronSyncJob)
	if err != nil {
		return nil, apierrors.Database(err)
	}
	count, err := s.subs.Count(ctx)
	if err != nil {
		return nil, apierrors.Database(err)
	}
	return &SyncState{
		Cron:          state,
		Running:       s.Running(),
		Subscriptions: count,
		Window:        s.window,
	}, nil
}
