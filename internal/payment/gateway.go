// Package payment adapts Stripe Checkout to the session lifecycle the
// checkout workflow relies on.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/safar/storefront/internal/apperr"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StatusPaid is the payment status of a completed checkout session.
const StatusPaid = "paid"

// Metadata keys written on every checkout session.
const (
	MetaUserID     = "userId"
	MetaCouponCode = "couponCode"
	MetaProducts   = "products"
)

type LineItem struct {
	Name       string
	Image      string
	UnitAmount int64
	Quantity   int64
}

type SessionRequest struct {
	LineItems []LineItem
	// DiscountCouponID is a gateway coupon id; empty means no discount.
	DiscountCouponID string
	Metadata         map[string]string
}

type Session struct {
	ID            string
	URL           string
	PaymentStatus string
	// AmountTotal is the amount charged in minor units, after discounts.
	AmountTotal int64
	Metadata    map[string]string
}

// Paid reports whether the gateway considers the session settled.
func (s *Session) Paid() bool {
	return s.PaymentStatus == StatusPaid
}

type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, id string) (*Session, error)
	CreatePercentOffCoupon(ctx context.Context, percent int) (string, error)
}

type StripeConfig struct {
	SecretKey  string
	Currency   string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

type StripeGateway struct {
	api *client.API
	cfg StripeConfig
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	api := &client.API{}
	api.Init(cfg.SecretKey, stripe.NewBackends(httpClient))
	return &StripeGateway{api: api, cfg: cfg}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := g.sessionParams(req)
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, gatewayError("payment.CreateSession", err)
	}
	return fromStripe(s), nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, apperr.NotFound("payment.RetrieveSession", "Checkout session not found", err)
		}
		return nil, gatewayError("payment.RetrieveSession", err)
	}
	return fromStripe(s), nil
}

func (g *StripeGateway) CreatePercentOffCoupon(ctx context.Context, percent int) (string, error) {
	params := &stripe.CouponParams{
		PercentOff: stripe.Float64(float64(percent)),
		Duration:   stripe.String(string(stripe.CouponDurationOnce)),
	}
	params.Context = ctx

	c, err := g.api.Coupons.New(params)
	if err != nil {
		return "", gatewayError("payment.CreatePercentOffCoupon", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) sessionParams(req SessionRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(g.cfg.SuccessURL),
		CancelURL:          stripe.String(g.cfg.CancelURL),
	}

	for _, item := range req.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Image != "" {
			product.Images = stripe.StringSlice([]string{item.Image})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(g.cfg.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	if req.DiscountCouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(req.DiscountCouponID)},
		}
	}

	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	return params
}

func fromStripe(s *stripe.CheckoutSession) *Session {
	return &Session{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Metadata:      s.Metadata,
	}
}

// gatewayError keeps Stripe's message for diagnostics while the client sees a
// generic one.
func gatewayError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return apperr.Gateway(op, "Payment provider error",
			fmt.Errorf("stripe %s (%s): %s: %w", stripeErr.Type, stripeErr.Code, stripeErr.Msg, err))
	}
	return apperr.Gateway(op, "Payment provider error", err)
}
