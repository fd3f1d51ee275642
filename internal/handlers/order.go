package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/safar/storefront/internal/apperr"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/middleware"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

const (
	defaultOrderPage = 20
	maxOrderPage     = 100
)

type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersCursor(ctx context.Context, userID, cursor string, limit int) (*store.CursorPage, error)
}

type OrderHandler struct {
	responder
	orders OrderReader
}

func NewOrderHandler(orders OrderReader, rs responder) *OrderHandler {
	return &OrderHandler{responder: rs, orders: orders}
}

// ListOrders handles GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.ListOrders"
	id, _ := middleware.IdentityFromContext(r.Context())

	limit := defaultOrderPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, r, apperr.Validation(op, "Invalid limit"))
			return
		}
		limit = min(n, maxOrderPage)
	}

	page, err := h.orders.ListOrdersCursor(r.Context(), id.UserID, r.URL.Query().Get("cursor"), limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		h.respondError(w, r, apperr.Validation(op, "Invalid cursor"))
		return
	}
	if err != nil {
		h.respondError(w, r, apperr.Internal(op, "Internal server error", err))
		return
	}
	if page.Items == nil {
		page.Items = []models.Order{}
	}
	h.respondJSON(w, http.StatusOK, page)
}

// GetOrder handles GET /api/orders/{id}. Orders of other users are reported
// as missing.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.GetOrder"
	id, _ := middleware.IdentityFromContext(r.Context())

	orderID, err := idParam(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if errors.Is(err, database.ErrOrderNotFound) || (err == nil && order.UserID != id.UserID) {
		h.respondError(w, r, apperr.NotFound(op, "Order not found", err))
		return
	}
	if err != nil {
		h.respondError(w, r, apperr.Internal(op, "Internal server error", err))
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}
