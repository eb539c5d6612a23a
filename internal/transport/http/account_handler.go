package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/middleware"
	"obsidian/internal/storage"
)

// HWIDResetResponse is the body of a successful HWID reset.
// ResetsRemaining is omitted when the limiter could not be consulted.
type HWIDResetResponse struct {
	Subscription    *storage.Subscription `json:"subscription"`
	ResetsRemaining *int                  `json:"resets_remaining,omitempty"`
}

// AccountHandler serves a signed-in buyer's redemption and subscription
// endpoints. Every route expects claims from RequireSession.
type AccountHandler struct {
	redemption   RedemptionServiceInterface
	accounts     AccountServiceInterface
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(redemption RedemptionServiceInterface, accounts AccountServiceInterface, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		redemption:   redemption,
		accounts:     accounts,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "account")),
	}
}

// Redeem handles GET /api/redeem?serial=, the purchase completion link
func (h *AccountHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}

	serial := r.URL.Query().Get("serial")
	if serial == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidationError("serial is required"))
		return
	}

	result, err := h.redemption.Redeem(r.Context(), serial, claims.DiscordID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// Subscription handles GET /api/account/subscription
func (h *AccountHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}

	sub, err := h.accounts.Subscription(r.Context(), claims.DiscordID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, sub)
}

// ResetHWID handles POST /api/account/hwid-reset
func (h *AccountHandler) ResetHWID(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}

	sub, err := h.accounts.ResetHWID(r.Context(), claims.DiscordID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := HWIDResetResponse{Subscription: sub}
	if res, ok := middleware.LimitResultFromContext(r.Context()); ok {
		resp.ResetsRemaining = &res.Remaining
	}

	h.logger.InfoContext(r.Context(), "HWID reset",
		slog.String("discord_id", claims.DiscordID),
	)
	render.JSON(w, r, resp)
}

// SubscriptionByID handles GET /api/admin/subscriptions/{discordID}
func (h *AccountHandler) SubscriptionByID(w http.ResponseWriter, r *http.Request) {
	discordID := chi.URLParam(r, "discordID")
	if !middleware.IsSnowflake(discordID) {
		h.errorHandler.HandleError(w, r, apierrors.NewValidationError("discord_id must be a Discord id"))
		return
	}

	sub, err := h.accounts.Subscription(r.Context(), discordID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, sub)
}

// claims returns the buyer's session. Admin sessions carry no Discord id
// and cannot act as a buyer.
func (h *AccountHandler) claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
		return nil, false
	}
	if claims.DiscordID == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrForbidden)
		return nil, false
	}
	return claims, true
}
