package billing

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoCustomer      = errors.New("no billing customer for user")
	ErrNoSubscription  = errors.New("no subscription for user")
	ErrInvalidInterval = errors.New("billing interval must be month or year")
	ErrPriceNotSet     = errors.New("stripe price is not configured for interval")
	ErrUserNotResolved = errors.New("could not resolve local user for stripe object")
)

// SubscriptionSnapshot is the provider state of one subscription at a point in time.
type SubscriptionSnapshot struct {
	SubscriptionID    string
	CustomerID        string
	UserID            string // metadata userId, empty when the subscription was not created by checkout
	PriceID           string
	Interval          string
	Status            string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	CanceledAt        *time.Time
}

// IsPro reports whether the snapshot grants pro access.
func (s *SubscriptionSnapshot) IsPro() bool {
	return IsEntitlingStatus(s.Status)
}

// CheckoutRequest is the input for a subscription checkout session.
type CheckoutRequest struct {
	UserID     string
	Email      string
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a created hosted checkout page.
type CheckoutSession struct {
	ID  string
	URL string
}

// ProviderError carries the HTTP status and message of a failed Stripe call.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("stripe: %s (%d)", e.Message, e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}
