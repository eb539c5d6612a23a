package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/middleware"
	"obsidian/internal/services"
)

// AdminHandler serves dashboard sign-in, overview and announcements
type AdminHandler struct {
	sessions     SessionServiceInterface
	overview     OverviewServiceInterface
	changelog    ChangelogServiceInterface
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sessions SessionServiceInterface, overview OverviewServiceInterface, changelog ChangelogServiceInterface, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		sessions:     sessions,
		overview:     overview,
		changelog:    changelog,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// LoginRequest is the dashboard sign-in body
type LoginRequest struct {
	Password string `json:"password" validate:"required,max=256"`
}

// UserSessionRequest names the buyer a session is issued for
type UserSessionRequest struct {
	DiscordID string `json:"discord_id" validate:"required,snowflake"`
}

// Login handles POST /api/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	session, err := h.sessions.AdminLogin(r.Context(), req.Password)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Admin login failed",
			slog.String("remote_addr", r.RemoteAddr),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, session)
}

// UserSession handles POST /api/admin/sessions. The storefront calls it once
// a buyer has signed in with Discord.
func (h *AdminHandler) UserSession(w http.ResponseWriter, r *http.Request) {
	var req UserSessionRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	session, err := h.sessions.UserSession(r.Context(), req.DiscordID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, session)
}

// Overview handles GET /api/admin/overview
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.overview.Get(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, overview)
}

// Changelog handles POST /api/admin/changelog
func (h *AdminHandler) Changelog(w http.ResponseWriter, r *http.Request) {
	var req services.ChangelogRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if err := h.changelog.Announce(r.Context(), req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"version":   req.Version,
		"announced": true,
	})
}
