package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/middleware"
)

// SyncHandler triggers and reports the subscription mirror
type SyncHandler struct {
	service      SyncServiceInterface
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service SyncServiceInterface, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		service:      service,
		query:        middleware.NewQueryParamValidator(errorHandler),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "sync")),
	}
}

// Batch handles POST /api/admin/sync/batch?step=N. It answers 206 while
// windows remain and 200 on the last one, so callers loop on the status.
func (h *SyncHandler) Batch(w http.ResponseWriter, r *http.Request) {
	step, ok := h.query.ValidateInt(w, r, "step", 0, 1<<20, 0)
	if !ok {
		return
	}

	result, err := h.service.RunBatch(r.Context(), step)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, result.StatusCode())
	render.JSON(w, r, result)
}

// Run handles POST /api/admin/sync/run
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunAll(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}

// State handles GET /api/admin/sync/state
func (h *SyncHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.State(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, state)
}

// Cron handles GET /api/cron/sync. It resumes from the saved checkpoint and
// returns 206 when the request ended before the mirror completed.
func (h *SyncHandler) Cron(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.service.RunScheduled(ctx)
	if err != nil {
		if report == nil || ctx.Err() == nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		h.logger.WarnContext(ctx, "Scheduled sync interrupted",
			slog.Int("last_step", report.LastStep),
			slog.Int("batches", report.Batches),
		)
	}

	if !report.Complete {
		render.Status(r, http.StatusPartialContent)
	}
	render.JSON(w, r, report)
}
