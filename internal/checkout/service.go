// Package checkout turns a cart into a hosted payment session and a paid
// session into exactly one order.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/safar/storefront/internal/apperr"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/payment"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/safar/storefront/internal/checkout")

type CouponStore interface {
	CreateCoupon(ctx context.Context, req store.CreateCouponRequest) (*models.Coupon, error)
	GetActiveCouponForUser(ctx context.Context, userID string) (*models.Coupon, error)
	FindActiveCoupon(ctx context.Context, code, userID string) (*models.Coupon, error)
	DeactivateCoupon(ctx context.Context, code, userID string) (bool, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, req store.CreateOrderRequest) (*models.Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
}

type Config struct {
	// CouponThresholdMinor is the pre-discount total, in minor units, at or
	// above which a loyalty coupon is issued.
	CouponThresholdMinor int64
	CouponPercent        int
	CouponValidity       time.Duration
	CouponCodePrefix     string
}

type Service struct {
	coupons CouponStore
	orders  OrderStore
	gateway payment.Gateway
	cfg     Config
	log     *slog.Logger

	now     func() time.Time
	newCode func() (string, error)
}

func NewService(coupons CouponStore, orders OrderStore, gateway payment.Gateway, cfg Config, log *slog.Logger) *Service {
	s := &Service{
		coupons: coupons,
		orders:  orders,
		gateway: gateway,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	s.newCode = func() (string, error) { return generateCouponCode(s.cfg.CouponCodePrefix) }
	return s
}

type CreateSessionRequest struct {
	Products   []models.CartItem `json:"products"`
	CouponCode string            `json:"couponCode,omitempty"`
}

type SessionResult struct {
	ID  string
	URL string
	// TotalAmount is the pre-discount total in major units.
	TotalAmount decimal.Decimal
}

// CreateSession validates the cart, prices it, and opens a payment session.
// Loyalty coupon issuance runs before returning but can never fail the call.
func (s *Service) CreateSession(ctx context.Context, userID string, req CreateSessionRequest) (*SessionResult, error) {
	const op = "checkout.CreateSession"

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int("cart.items", len(req.Products)),
	))
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Unauthorized(op, "User not authenticated")
	}
	if err := validateCart(op, req.Products); err != nil {
		return nil, err
	}

	total := TotalMinor(req.Products)
	snapshot, err := encodeSnapshot(op, req.Products)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.CouponCode)
	coupon, err := s.usableCoupon(ctx, code, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "coupon lookup failed")
		return nil, err
	}

	sessionReq := payment.SessionRequest{
		LineItems: lineItems(req.Products),
		Metadata: map[string]string{
			payment.MetaUserID:     userID,
			payment.MetaCouponCode: code,
			payment.MetaProducts:   snapshot,
		},
	}
	if coupon != nil {
		gatewayCoupon, err := s.gateway.CreatePercentOffCoupon(ctx, coupon.DiscountPercentage)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "gateway coupon failed")
			return nil, err
		}
		sessionReq.DiscountCouponID = gatewayCoupon
	}

	session, err := s.gateway.CreateSession(ctx, sessionReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.session_id", session.ID), attribute.Int64("cart.total_minor", total))

	if total >= s.cfg.CouponThresholdMinor {
		s.IssueCoupon(ctx, userID)
	}

	s.log.InfoContext(ctx, "checkout session created",
		"session_id", session.ID,
		"user_id", userID,
		"total_minor", total,
		"coupon_applied", coupon != nil,
	)

	return &SessionResult{
		ID:          session.ID,
		URL:         session.URL,
		TotalAmount: decimal.New(total, -2),
	}, nil
}

// usableCoupon returns the caller's active, unexpired coupon with this code,
// or nil when there is none.
func (s *Service) usableCoupon(ctx context.Context, code, userID string) (*models.Coupon, error) {
	if code == "" {
		return nil, nil
	}

	coupon, err := s.coupons.FindActiveCoupon(ctx, code, userID)
	if errors.Is(err, database.ErrCouponNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("checkout.CreateSession", "Internal server error", err)
	}
	if coupon.Expired(s.now()) {
		s.log.InfoContext(ctx, "ignoring expired coupon", "code", code, "user_id", userID)
		return nil, nil
	}
	return coupon, nil
}

type FinalizeResult struct {
	Success          bool
	OrderID          int64
	AlreadyProcessed bool
	Message          string
}

// FinalizeSession records the order for a paid session. It is safe to call
// repeatedly for the same session: only the first call creates an order and
// later calls return it.
func (s *Service) FinalizeSession(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	return s.finalize(ctx, "checkout.FinalizeSession", sessionID, "")
}

// FinalizeOwnSession is FinalizeSession for a signed-in customer. Sessions
// and orders belonging to another user are reported as not found.
func (s *Service) FinalizeOwnSession(ctx context.Context, userID, sessionID string) (*FinalizeResult, error) {
	const op = "checkout.FinalizeOwnSession"
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Unauthorized(op, "User not authenticated")
	}
	return s.finalize(ctx, op, sessionID, userID)
}

// finalize does the work of both entry points. An empty owner skips the
// ownership check.
func (s *Service) finalize(ctx context.Context, op, sessionID, owner string) (*FinalizeResult, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("payment.session_id", sessionID),
	))
	defer span.End()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperr.Validation(op, "Session id is required")
	}

	if existing, err := s.existingOrder(ctx, op, sessionID, owner); err != nil || existing != nil {
		return existing, err
	}

	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieve session failed")
		return nil, err
	}

	userID := session.Metadata[payment.MetaUserID]
	if owner != "" && userID != owner {
		s.log.WarnContext(ctx, "finalization of another user's session refused", "session_id", sessionID, "user_id", owner)
		return nil, apperr.NotFound(op, "Checkout session not found", nil)
	}

	if !session.Paid() {
		s.log.InfoContext(ctx, "checkout session not paid", "session_id", sessionID, "payment_status", session.PaymentStatus)
		return &FinalizeResult{Success: false, Message: "Payment not completed"}, nil
	}

	if userID == "" {
		return nil, apperr.Internal(op, "Internal server error", errors.New("session metadata has no user id"))
	}

	items, err := decodeSnapshot(session.Metadata[payment.MetaProducts])
	if err != nil {
		return nil, apperr.Internal(op, "Internal server error", err)
	}

	order, err := s.orders.CreateOrder(ctx, store.CreateOrderRequest{
		UserID:          userID,
		TotalAmount:     decimal.New(session.AmountTotal, -2),
		StripeSessionID: sessionID,
		Items:           orderItems(items),
	})
	if errors.Is(err, database.ErrDuplicateSession) {
		s.log.InfoContext(ctx, "concurrent finalization lost the race", "session_id", sessionID)
		existing, err := s.existingOrder(ctx, op, sessionID, owner)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperr.Internal(op, "Internal server error", errors.New("duplicate session but no order found"))
		}
		return existing, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, apperr.Internal(op, "Internal server error", err)
	}

	// Only a recorded order consumes the coupon.
	if code := session.Metadata[payment.MetaCouponCode]; code != "" {
		s.deactivateCoupon(ctx, code, userID)
	}

	s.log.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"session_id", sessionID,
		"user_id", userID,
		"total_amount", order.TotalAmount.StringFixed(2),
	)

	return &FinalizeResult{
		Success: true,
		OrderID: order.ID,
		Message: "Payment successful, order created, and coupon deactivated if used",
	}, nil
}

func (s *Service) existingOrder(ctx context.Context, op, sessionID, owner string) (*FinalizeResult, error) {
	order, err := s.orders.GetOrderBySessionID(ctx, sessionID)
	if errors.Is(err, database.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(op, "Internal server error", err)
	}
	if owner != "" && order.UserID != owner {
		return nil, apperr.NotFound(op, "Checkout session not found", nil)
	}
	return &FinalizeResult{
		Success:          true,
		OrderID:          order.ID,
		AlreadyProcessed: true,
		Message:          "Order already processed",
	}, nil
}

func (s *Service) deactivateCoupon(ctx context.Context, code, userID string) {
	ok, err := s.coupons.DeactivateCoupon(ctx, code, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to deactivate coupon", "code", code, "user_id", userID, "error", err)
		return
	}
	if ok {
		s.log.InfoContext(ctx, "coupon deactivated", "code", code, "user_id", userID)
	}
}

func lineItems(products []models.CartItem) []payment.LineItem {
	items := make([]payment.LineItem, 0, len(products))
	for _, p := range products {
		items = append(items, payment.LineItem{
			Name:       p.Name,
			Image:      p.Image,
			UnitAmount: UnitAmountMinor(p.Price),
			Quantity:   int64(p.Quantity),
		})
	}
	return items
}

func orderItems(snapshot []models.SnapshotItem) []store.OrderItemRequest {
	items := make([]store.OrderItemRequest, 0, len(snapshot))
	for _, s := range snapshot {
		items = append(items, store.OrderItemRequest{
			ProductID: s.ID,
			Quantity:  s.Quantity,
			UnitPrice: s.Price,
		})
	}
	return items
}
