package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/safar/storefront/internal/middleware"
	"github.com/safar/storefront/internal/models"
)

type CouponService interface {
	ActiveCoupon(ctx context.Context, userID string) (*models.Coupon, error)
	ValidateCoupon(ctx context.Context, userID, code string) (*models.Coupon, error)
}

type CouponHandler struct {
	responder
	coupons CouponService
}

func NewCouponHandler(svc CouponService, rs responder) *CouponHandler {
	return &CouponHandler{responder: rs, coupons: svc}
}

// GetCoupon handles GET /api/coupons
func (h *CouponHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	coupon, err := h.coupons.ActiveCoupon(r.Context(), id.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, coupon)
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type validateCouponResponse struct {
	Message            string `json:"message"`
	Code               string `json:"code"`
	DiscountPercentage int    `json:"discountPercentage"`
}

// ValidateCoupon handles POST /api/coupons/validate
func (h *CouponHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	var req validateCouponRequest
	if !h.decode(w, r, &req) {
		return
	}

	coupon, err := h.coupons.ValidateCoupon(r.Context(), id.UserID, strings.TrimSpace(req.Code))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, validateCouponResponse{
		Message:            "Coupon is valid",
		Code:               coupon.Code,
		DiscountPercentage: coupon.DiscountPercentage,
	})
}
