package checkout

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/safar/storefront/internal/apperr"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

const (
	couponAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	couponCodeLength = 6
)

func generateCouponCode(prefix string) (string, error) {
	buf := make([]byte, couponCodeLength)
	base := big.NewInt(int64(len(couponAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		buf[i] = couponAlphabet[n.Int64()]
	}
	return prefix + string(buf), nil
}

// IssueCoupon gives the user a loyalty coupon unless they already hold an
// active one, in which case that coupon is returned. It never fails: any error
// is logged and reported as nil.
func (s *Service) IssueCoupon(ctx context.Context, userID string) *models.Coupon {
	existing, err := s.coupons.GetActiveCouponForUser(ctx, userID)
	switch {
	case err == nil && !existing.Expired(s.now()):
		return existing
	case err == nil:
		// An expired coupon still occupies the user's active slot.
		if _, err := s.coupons.DeactivateCoupon(ctx, existing.Code, userID); err != nil {
			s.log.ErrorContext(ctx, "failed to retire expired coupon", "user_id", userID, "error", err)
			return nil
		}
	case !errors.Is(err, database.ErrCouponNotFound):
		s.log.ErrorContext(ctx, "failed to look up active coupon", "user_id", userID, "error", err)
		return nil
	}

	code, err := s.newCode()
	if err != nil {
		s.log.ErrorContext(ctx, "failed to generate coupon code", "user_id", userID, "error", err)
		return nil
	}

	coupon, err := s.coupons.CreateCoupon(ctx, store.CreateCouponRequest{
		Code:               code,
		DiscountPercentage: s.cfg.CouponPercent,
		ExpirationDate:     s.now().Add(s.cfg.CouponValidity),
		UserID:             userID,
	})
	if errors.Is(err, database.ErrActiveCouponExists) {
		// Another checkout for the same user issued one first.
		winner, err := s.coupons.GetActiveCouponForUser(ctx, userID)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to read concurrently issued coupon", "user_id", userID, "error", err)
			return nil
		}
		return winner
	}
	if err != nil {
		s.log.ErrorContext(ctx, "failed to create coupon", "user_id", userID, "error", err)
		return nil
	}

	s.log.InfoContext(ctx, "loyalty coupon issued", "user_id", userID, "code", coupon.Code)
	return coupon
}

// ActiveCoupon returns the user's active coupon.
func (s *Service) ActiveCoupon(ctx context.Context, userID string) (*models.Coupon, error) {
	const op = "checkout.ActiveCoupon"

	coupon, err := s.coupons.GetActiveCouponForUser(ctx, userID)
	if errors.Is(err, database.ErrCouponNotFound) {
		return nil, apperr.NotFound(op, "No active coupon found", err)
	}
	if err != nil {
		return nil, apperr.Internal(op, "Internal server error", err)
	}
	return coupon, nil
}

// ValidateCoupon checks that code names an active, unexpired coupon owned by
// the user. An expired coupon is deactivated on the way out.
func (s *Service) ValidateCoupon(ctx context.Context, userID, code string) (*models.Coupon, error) {
	const op = "checkout.ValidateCoupon"

	if code == "" {
		return nil, apperr.Validation(op, "Coupon code is required")
	}

	coupon, err := s.coupons.FindActiveCoupon(ctx, code, userID)
	if errors.Is(err, database.ErrCouponNotFound) {
		return nil, apperr.NotFound(op, "Coupon not found", err)
	}
	if err != nil {
		return nil, apperr.Internal(op, "Internal server error", err)
	}

	if coupon.Expired(s.now()) {
		if _, err := s.coupons.DeactivateCoupon(ctx, code, userID); err != nil {
			s.log.ErrorContext(ctx, "failed to deactivate expired coupon", "code", code, "user_id", userID, "error", err)
		}
		return nil, apperr.NotFound(op, "Coupon expired", nil)
	}
	return coupon, nil
}
