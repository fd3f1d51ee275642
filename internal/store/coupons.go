package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const couponColumns = `id, code, discount_percentage, expiration_date, user_id, is_active, created_at, updated_at`

// activeCouponIndex is the partial unique index allowing one active coupon per user.
const activeCouponIndex = "coupons_one_active_per_user"

type CreateCouponRequest struct {
	Code               string
	DiscountPercentage int
	ExpirationDate     time.Time
	UserID             string
}

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	coupon := &models.Coupon{}
	err := row.Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.DiscountPercentage,
		&coupon.ExpirationDate,
		&coupon.UserID,
		&coupon.IsActive,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return coupon, nil
}

// CreateCoupon inserts an active coupon. It returns database.ErrActiveCouponExists
// when the user already holds one.
func CreateCoupon(ctx context.Context, db database.DBTX, req CreateCouponRequest) (*models.Coupon, error) {
	query := `
		INSERT INTO coupons (code, discount_percentage, expiration_date, user_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		RETURNING ` + couponColumns

	coupon, err := scanCoupon(db.QueryRowContext(ctx, query,
		req.Code, req.DiscountPercentage, req.ExpirationDate, req.UserID))
	if err != nil {
		if database.IsUniqueViolation(err, activeCouponIndex) {
			return nil, database.ErrActiveCouponExists
		}
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	return coupon, nil
}

func GetActiveCouponForUser(ctx context.Context, db database.DBTX, userID string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE user_id = $1 AND is_active`

	coupon, err := scanCoupon(db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get active coupon: %w", err)
	}

	return coupon, nil
}

func FindActiveCoupon(ctx context.Context, db database.DBTX, code, userID string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 AND user_id = $2 AND is_active`

	coupon, err := scanCoupon(db.QueryRowContext(ctx, query, code, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("find active coupon: %w", err)
	}

	return coupon, nil
}

// DeactivateCoupon marks the user's coupon inactive. It is idempotent and
// reports whether a row was actually switched off.
func DeactivateCoupon(ctx context.Context, db database.DBTX, code, userID string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE coupons
		 SET is_active = FALSE, updated_at = NOW()
		 WHERE code = $1 AND user_id = $2 AND is_active`,
		code, userID)
	if err != nil {
		return false, fmt.Errorf("deactivate coupon: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
