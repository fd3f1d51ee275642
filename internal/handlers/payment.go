package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/middleware"
	"github.com/safar/storefront/internal/payment"
)

const maxWebhookBytes = 64 << 10

type CheckoutService interface {
	CreateSession(ctx context.Context, userID string, req checkout.CreateSessionRequest) (*checkout.SessionResult, error)
	FinalizeSession(ctx context.Context, sessionID string) (*checkout.FinalizeResult, error)
	FinalizeOwnSession(ctx context.Context, userID, sessionID string) (*checkout.FinalizeResult, error)
}

type EventVerifier interface {
	Verify(payload []byte, signature string) (payment.WebhookEvent, error)
}

type PaymentHandler struct {
	responder
	checkout CheckoutService
	verifier EventVerifier
}

func NewPaymentHandler(svc CheckoutService, verifier EventVerifier, rs responder) *PaymentHandler {
	return &PaymentHandler{responder: rs, checkout: svc, verifier: verifier}
}

type checkoutSessionResponse struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	TotalAmount json.Number `json:"totalAmount"`
}

// CreateCheckoutSession handles POST /api/payments/create-checkout-session
func (h *PaymentHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	var req checkout.CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.checkout.CreateSession(r.Context(), id.UserID, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, checkoutSessionResponse{
		ID:          res.ID,
		URL:         res.URL,
		TotalAmount: json.Number(res.TotalAmount.StringFixed(2)),
	})
}

type checkoutSuccessRequest struct {
	SessionID string `json:"sessionId"`
}

type checkoutSuccessResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	OrderID          int64  `json:"orderId,omitempty"`
	AlreadyProcessed bool   `json:"alreadyProcessed,omitempty"`
}

// CheckoutSuccess handles POST /api/payments/create-checkout-success
func (h *PaymentHandler) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	var req checkoutSuccessRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.checkout.FinalizeOwnSession(r.Context(), id.UserID, req.SessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	h.respondJSON(w, status, checkoutSuccessResponse{
		Success:          res.Success,
		Message:          res.Message,
		OrderID:          res.OrderID,
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

// Webhook handles POST /api/payments/webhook. A non-2xx reply makes Stripe
// redeliver, so only finalization faults return 500.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.respondMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if !errors.Is(err, payment.ErrInvalidSignature) {
			h.log.WarnContext(r.Context(), "undecodable webhook payload", "error", err)
		}
		h.respondMessage(w, http.StatusBadRequest, "Invalid webhook")
		return
	}

	if !event.CompletesCheckout() {
		h.log.DebugContext(r.Context(), "ignoring webhook event", "event_id", event.ID, "type", event.Type)
		h.respondJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	res, err := h.checkout.FinalizeSession(r.Context(), event.SessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.log.InfoContext(r.Context(), "webhook processed",
		"event_id", event.ID,
		"type", event.Type,
		"session_id", event.SessionID,
		"success", res.Success,
		"already_processed", res.AlreadyProcessed,
	)
	h.respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
