package http

import (
	"log/slog"
	"net/http"

	gorillaws "github.com/gorilla/websocket"

	"obsidian/internal/config"
	"obsidian/internal/middleware"
	ws "obsidian/internal/websocket"
)

// WebSocketHandler upgrades dashboard connections and attaches them to the hub
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader *gorillaws.Upgrader
	cfg      config.WebSocketConfig
	logger   *slog.Logger
}

// NewWebSocketHandler creates a websocket handler accepting allowedOrigins
func NewWebSocketHandler(hub *ws.Hub, cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	logger = logger.With(slog.String("handler", "websocket"))
	upgrader := ws.NewUpgrader(cfg, allowedOrigins)
	upgrader.Error = func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		logger.WarnContext(r.Context(), "WebSocket upgrade error",
			slog.Int("status", status),
			slog.String("reason", reason.Error()),
			slog.String("origin", r.Header.Get("Origin")),
		)
		http.Error(w, http.StatusText(status), status)
	}

	return &WebSocketHandler{
		hub:      hub,
		upgrader: upgrader,
		cfg:      cfg,
		logger:   logger,
	}
}

// Connect handles GET /api/admin/ws
func (h *WebSocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered
		return
	}

	client := ws.Serve(h.hub, ws.NewConnectionWrapper(conn), h.cfg, middleware.GetRequestID(ctx), h.logger)
	if client == nil {
		h.logger.WarnContext(ctx, "WebSocket hub is not running, connection closed")
		return
	}

	h.logger.InfoContext(ctx, "WebSocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", r.RemoteAddr),
	)
}
