package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/middleware"
	"obsidian/internal/services"
)

// TelemetryHandler ingests script execution reports
type TelemetryHandler struct {
	service      TelemetryServiceInterface
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(service TelemetryServiceInterface, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "telemetry")),
	}
}

// Record handles POST /api/telemetry
func (h *TelemetryHandler) Record(w http.ResponseWriter, r *http.Request) {
	var ev services.TelemetryEvent
	if err := h.validator.DecodeJSON(r, &ev); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	stored, err := h.service.Record(r.Context(), ev)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, stored)
}

// Summary handles GET /api/admin/telemetry/summary
func (h *TelemetryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, summary)
}
