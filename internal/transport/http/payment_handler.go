package http

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "obsidian/internal/errors"
	"obsidian/internal/middleware"
	"obsidian/internal/services"
)

// PaymentHandler receives the payment provider's webhooks
type PaymentHandler struct {
	service      PaymentServiceInterface
	secret       string
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewPaymentHandler creates a payment webhook handler verifying bodies
// against secret
func NewPaymentHandler(service PaymentServiceInterface, secret string, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service:      service,
		secret:       secret,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "payment")),
	}
}

// Webhook handles POST /api/webhooks/payment. The signature covers the raw
// body, so it is read once and checked before decoding.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, middleware.DefaultMaxBodySize))
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := services.VerifySignature(h.secret, body, r.Header.Get(middleware.SignatureHeader)); err != nil {
		h.logger.WarnContext(ctx, "Payment webhook signature rejected",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("body_bytes", len(body)),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	var ev services.PaymentEvent
	if err := h.validator.DecodeJSON(r, &ev); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	result, err := h.service.HandleEvent(ctx, ev)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "Payment webhook handled",
		slog.String("event", ev.Event),
		slog.String("order_id", ev.OrderID),
		slog.Int("serials", len(result.Serials)),
		slog.Bool("duplicate", result.Duplicate),
	)
	render.JSON(w, r, result)
}
