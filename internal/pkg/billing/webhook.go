package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe event types the service reacts to.
const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventCustomerSubscriptionCreated = "customer.subscription.created"
	EventCustomerSubscriptionUpdated = "customer.subscription.updated"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaymentFailed        = "invoice.payment_failed"
)

var ErrInvalidSignature = errors.New("invalid stripe webhook signature")

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
// API version mismatches are ignored; only the fields read below matter.
func ParseWebhook(payload []byte, sigHeader, secret string) (*stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}

// IsHandledEvent reports whether eventType changes subscription state.
func IsHandledEvent(eventType string) bool {
	switch eventType {
	case EventCheckoutSessionCompleted,
		EventCustomerSubscriptionCreated,
		EventCustomerSubscriptionUpdated,
		EventCustomerSubscriptionDeleted,
		EventInvoicePaymentFailed:
		return true
	default:
		return false
	}
}

// EventTime is the creation time of an event, or now when unset.
func EventTime(event *stripe.Event) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return time.Now().UTC()
}

func decodeObject(event *stripe.Event, v interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("event %s has no data object", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	return nil
}
