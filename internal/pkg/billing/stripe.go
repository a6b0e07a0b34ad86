package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/ManuelReschke/PixelConvert/app/models"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
)

// MetadataUserIDKey is set on checkout sessions and the subscriptions they create.
const MetadataUserIDKey = "userId"

// Gateway is the subset of Stripe the service needs.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
}

// StripeGateway implements Gateway with stripe-go.
type StripeGateway struct {
	api    *client.API
	prices Prices
}

// NewStripeGatewayFromEnv builds a gateway from STRIPE_* variables.
// STRIPE_API_URL points the client at stripe-mock or a test server.
func NewStripeGatewayFromEnv() *StripeGateway {
	prices := Prices{
		Monthly: strings.TrimSpace(env.GetEnv("STRIPE_PRICE_MONTHLY", "")),
		Yearly:  strings.TrimSpace(env.GetEnv("STRIPE_PRICE_YEARLY", "")),
	}
	return NewStripeGateway(
		strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		strings.TrimSpace(env.GetEnv("STRIPE_API_URL", "")),
		prices,
	)
}

// NewStripeGateway creates a gateway for secretKey. An empty apiURL uses api.stripe.com.
func NewStripeGateway(secretKey, apiURL string, prices Prices) *StripeGateway {
	var backends *stripe.Backends
	if apiURL != "" {
		httpClient := &http.Client{Timeout: 15 * time.Second}
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(strings.TrimRight(apiURL, "/")),
				HTTPClient:        httpClient,
				MaxNetworkRetries: stripe.Int64(0),
			}),
			Connect: stripe.GetBackend(stripe.ConnectBackend),
			Uploads: stripe.GetBackend(stripe.UploadsBackend),
		}
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api, prices: prices}
}

// Prices returns the configured checkout prices.
func (g *StripeGateway) Prices() Prices {
	return g.prices
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errors.New("user id is required")
	}
	if strings.TrimSpace(req.PriceID) == "" {
		return nil, ErrPriceNotSet
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserIDKey: req.UserID},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserIDKey, req.UserID)
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", ErrNoCustomer
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return sess.URL, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	return g.setCancelAtPeriodEnd(ctx, subscriptionID, true)
}

func (g *StripeGateway) ResumeSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	return g.setCancelAtPeriodEnd(ctx, subscriptionID, false)
}

func (g *StripeGateway) setCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*SubscriptionSnapshot, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, ErrNoSubscription
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return g.snapshot(sub), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, ErrNoSubscription
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return g.snapshot(sub), nil
}

func (g *StripeGateway) snapshot(sub *stripe.Subscription) *SubscriptionSnapshot {
	snap := SnapshotFromStripe(sub)
	if snap.Interval == models.BillingIntervalUnknown {
		snap.Interval = g.prices.IntervalForPrice(snap.PriceID)
	}
	return snap
}

// SnapshotFromStripe converts a Stripe subscription object.
func SnapshotFromStripe(sub *stripe.Subscription) *SubscriptionSnapshot {
	snap := &SubscriptionSnapshot{
		SubscriptionID:    sub.ID,
		Status:            MapStripeStatus(string(sub.Status)),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixTime(sub.CurrentPeriodEnd),
		CancelAt:          unixTime(sub.CancelAt),
		CanceledAt:        unixTime(sub.CanceledAt),
		Interval:          models.BillingIntervalUnknown,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Metadata != nil {
		snap.UserID = strings.TrimSpace(sub.Metadata[MetadataUserIDKey])
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		snap.PriceID = price.ID
		if price.Recurring != nil {
			snap.Interval = NormalizeInterval(string(price.Recurring.Interval))
		}
	}
	return snap
}

func unixTime(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = err.Error()
		}
		status := se.HTTPStatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		return &ProviderError{StatusCode: status, Code: string(se.Code), Message: msg, Err: err}
	}
	return &ProviderError{StatusCode: http.StatusBadGateway, Message: err.Error(), Err: err}
}
