package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"obsidian/internal/auth"
	apierrors "obsidian/internal/errors"
	"obsidian/internal/exporter"
	"obsidian/internal/middleware"
	"obsidian/internal/services"
	"obsidian/internal/storage"
)

// KeysHandler serves the admin key management API
type KeysHandler struct {
	service      KeyServiceInterface
	redemption   RedemptionServiceInterface
	validator    *middleware.Validator
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewKeysHandler creates a new keys handler
func NewKeysHandler(service KeyServiceInterface, redemption RedemptionServiceInterface, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{
		service:      service,
		redemption:   redemption,
		validator:    validator,
		query:        middleware.NewQueryParamValidator(errorHandler),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "keys")),
	}
}

// KeysResponse wraps a page of keys
type KeysResponse struct {
	Keys  []storage.SerialKey `json:"keys"`
	Count int                 `json:"count"`
}

// AdminRedeemRequest names the account an admin redeems a serial for
type AdminRedeemRequest struct {
	DiscordID string `json:"discord_id" validate:"required,snowflake"`
}

// Routes returns a chi router for key endpoints
func (h *KeysHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Generate)
	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Get("/export", h.Export)
	r.Get("/{serial}", h.Get)
	r.Delete("/{serial}", h.Delete)
	r.Post("/{serial}/redeem", h.Redeem)

	return r
}

// Generate handles POST /api/admin/keys
func (h *KeysHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req services.GenerateRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	keys, err := h.service.Generate(r.Context(), req, services.SourceAdmin)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, KeysResponse{Keys: keys, Count: len(keys)})
}

// List handles GET /api/admin/keys?status=&order_id=&limit=&offset=
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}

	keys, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if keys == nil {
		keys = []storage.SerialKey{}
	}

	render.JSON(w, r, KeysResponse{Keys: keys, Count: len(keys)})
}

func (h *KeysHandler) filter(w http.ResponseWriter, r *http.Request) (storage.KeyFilter, bool) {
	status, ok := h.query.ValidateEnum(w, r, "status", []string{"all", "claimed", "unclaimed"}, "all")
	if !ok {
		return storage.KeyFilter{}, false
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, 1000, 100)
	if !ok {
		return storage.KeyFilter{}, false
	}
	offset, ok := h.query.ValidateInt(w, r, "offset", 0, 1<<30, 0)
	if !ok {
		return storage.KeyFilter{}, false
	}

	f := storage.KeyFilter{
		OrderID: r.URL.Query().Get("order_id"),
		Limit:   limit,
		Offset:  offset,
	}
	switch status {
	case "claimed":
		claimed := true
		f.Claimed = &claimed
	case "unclaimed":
		claimed := false
		f.Claimed = &claimed
	}
	return f, true
}

// Stats handles GET /api/admin/keys/stats
func (h *KeysHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

// Export handles GET /api/admin/keys/export?format=xlsx|csv. The status and
// order_id filters apply; limit and offset do not.
func (h *KeysHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	format, ok := h.query.ValidateEnum(w, r, "format", []string{"xlsx", "csv"}, "xlsx")
	if !ok {
		return
	}
	filter, ok := h.filter(w, r)
	if !ok {
		return
	}
	filter.Limit, filter.Offset = 0, 0

	keys, err := h.service.List(ctx, filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	filename := fmt.Sprintf("keys-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = exporter.WriteCSV(w, exporter.WriteOptions{
			Headers:   exporter.KeyHeaders,
			Records:   exporter.KeyRecords(keys),
			BOMPrefix: true,
		})
	} else {
		w.Header().Set("Content-Type", exporter.XLSXContentType)
		err = exporter.WriteKeysXLSX(w, keys, stats)
	}
	if err != nil {
		// headers are already out, the client sees a truncated file
		h.logger.ErrorContext(ctx, "Key export failed",
			slog.String("format", format),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.InfoContext(ctx, "Keys exported",
		slog.String("format", format),
		slog.Int("count", len(keys)),
	)
}

// Get handles GET /api/admin/keys/{serial}
func (h *KeysHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.service.Get(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, key)
}

// Delete handles DELETE /api/admin/keys/{serial}
func (h *KeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "serial")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Redeem handles POST /api/admin/keys/{serial}/redeem
func (h *KeysHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req AdminRedeemRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	admin := "admin"
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		admin = claims.Subject
	}
	h.logger.InfoContext(r.Context(), "Admin redemption",
		slog.String("admin", admin),
		slog.String("discord_id", req.DiscordID),
	)

	result, err := h.redemption.Redeem(r.Context(), chi.URLParam(r, "serial"), req.DiscordID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}
