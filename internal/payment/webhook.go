package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event types that mean a checkout session has been paid.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// WebhookEvent is the part of a verified Stripe event the service acts on.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// CompletesCheckout reports whether the event should trigger finalization.
func (e WebhookEvent) CompletesCheckout() bool {
	return e.SessionID != "" && (e.Type == EventCheckoutCompleted || e.Type == EventAsyncPaymentSucceeded)
}

type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify checks the Stripe-Signature header against payload and decodes the
// event. Events for other object types come back with an empty SessionID.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case stripe.EventType(EventCheckoutCompleted), stripe.EventType(EventAsyncPaymentSucceeded):
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		out.SessionID = s.ID
	}

	return out, nil
}
