package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelConvert/app/models"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/clerk"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/paywall"
)

var (
	ErrAlreadyPro   = errors.New("user already has an active subscription")
	ErrMetadataSync = errors.New("failed to write subscription metadata")
)

// MetadataWriter updates the auth provider's copy of the subscription state.
type MetadataWriter interface {
	UpdatePublicMetadata(ctx context.Context, userID string, patch map[string]interface{}) (*clerk.User, error)
}

// Service keeps the local mirror and the Clerk metadata in line with Stripe.
type Service struct {
	repo      Repository
	gateway   Gateway
	metadata  MetadataWriter
	prices    Prices
	publicURL string
	now       func() time.Time
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, gateway Gateway, metadata MetadataWriter, prices Prices, publicURL string) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		metadata:  metadata,
		prices:    prices,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// NewServiceFromDB wires the Stripe gateway from the environment.
func NewServiceFromDB(db *gorm.DB, metadata MetadataWriter) *Service {
	gateway := NewStripeGatewayFromEnv()
	return NewService(NewRepository(db), gateway, metadata, gateway.Prices(), env.GetEnv("PUBLIC_DOMAIN", ""))
}

// Prices returns the configured checkout prices.
func (s *Service) Prices() Prices {
	return s.prices
}

// StartCheckout opens a Stripe checkout for interval. Pro users get ErrAlreadyPro.
func (s *Service) StartCheckout(ctx context.Context, userID, email, interval string, md clerk.SubscriptionMetadata) (*CheckoutSession, error) {
	if NormalizeInterval(interval) == models.BillingIntervalUnknown {
		return nil, ErrInvalidInterval
	}
	if paywall.HasPro(md) {
		return nil, ErrAlreadyPro
	}
	priceID, err := s.prices.IntervalPriceID(interval)
	if err != nil {
		return nil, err
	}

	customerID, err := s.CustomerIDForUser(ctx, userID, md)
	if err != nil && !errors.Is(err, ErrNoCustomer) {
		return nil, err
	}

	return s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:     userID,
		Email:      email,
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: s.publicURL + "/?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.publicURL + "/?checkout=canceled",
	})
}

// PortalURL returns a billing portal link for the user's Stripe customer.
func (s *Service) PortalURL(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (string, error) {
	customerID, err := s.CustomerIDForUser(ctx, userID, md)
	if err != nil {
		return "", err
	}
	return s.gateway.CreatePortalSession(ctx, customerID, s.publicURL+"/")
}

// CancelSubscription schedules cancellation at period end and mirrors the result.
func (s *Service) CancelSubscription(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (*SubscriptionSnapshot, error) {
	return s.changeCancellation(ctx, userID, md, s.gateway.CancelSubscription)
}

// ResumeSubscription reverts a scheduled cancellation.
func (s *Service) ResumeSubscription(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (*SubscriptionSnapshot, error) {
	return s.changeCancellation(ctx, userID, md, s.gateway.ResumeSubscription)
}

func (s *Service) changeCancellation(
	ctx context.Context,
	userID string,
	md clerk.SubscriptionMetadata,
	call func(context.Context, string) (*SubscriptionSnapshot, error),
) (*SubscriptionSnapshot, error) {
	subID, err := s.SubscriptionIDForUser(ctx, userID, md)
	if err != nil {
		return nil, err
	}
	snap, err := call(ctx, subID)
	if err != nil {
		return nil, err
	}
	// The snapshot comes straight from the Stripe API, so it carries no
	// event time and must not move the webhook ordering marker.
	if _, err := s.ApplySnapshot(ctx, userID, snap, time.Time{}); err != nil {
		// Stripe already changed; the next webhook delivery reconciles.
		return snap, err
	}
	return snap, nil
}

// CustomerIDForUser prefers the mirrored metadata and falls back to the local mapping.
func (s *Service) CustomerIDForUser(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (string, error) {
	if id := strings.TrimSpace(md.StripeCustomerID); id != "" {
		return id, nil
	}
	customer, err := s.repo.GetCustomerByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoCustomer
		}
		return "", err
	}
	return customer.CustomerID, nil
}

// SubscriptionIDForUser prefers the mirrored metadata and falls back to the newest local subscription.
func (s *Service) SubscriptionIDForUser(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (string, error) {
	if id := strings.TrimSpace(md.StripeSubscriptionID); id != "" {
		return id, nil
	}
	sub, err := s.repo.GetLatestSubscriptionByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoSubscription
		}
		return "", err
	}
	return sub.SubscriptionID, nil
}

// RememberCustomer stores the user to Stripe customer mapping.
func (s *Service) RememberCustomer(ctx context.Context, userID, customerID, email string) error {
	userID = strings.TrimSpace(userID)
	customerID = strings.TrimSpace(customerID)
	if userID == "" || customerID == "" {
		return errors.New("user_id and customer_id are required")
	}
	return s.repo.UpsertCustomer(ctx, &models.BillingCustomer{
		UserID:     userID,
		Provider:   models.BillingProviderStripe,
		CustomerID: customerID,
		Email:      strings.TrimSpace(email),
	})
}

// ApplySnapshot mirrors snap into the local table and the user's Clerk
// metadata. eventAt is the Stripe event creation time; snapshots older than
// the last applied event are skipped and reported with applied=false.
//
// A zero eventAt marks a snapshot fetched directly from Stripe. It is always
// applied and keeps the stored event marker, so only Stripe event times ever
// order later webhook deliveries.
func (s *Service) ApplySnapshot(ctx context.Context, userID string, snap *SubscriptionSnapshot, eventAt time.Time) (bool, error) {
	if strings.TrimSpace(userID) == "" || snap == nil || strings.TrimSpace(snap.SubscriptionID) == "" {
		return false, errors.New("user_id and subscription are required")
	}
	fetched := eventAt.IsZero()
	eventAt = eventAt.UTC().Truncate(time.Second)

	existing, err := s.repo.GetSubscription(ctx, snap.SubscriptionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if !fetched && existing != nil && eventAt.Before(existing.LastEventAt) {
		log.Infof("[Billing] Skipping stale snapshot for %s (%s < %s)", snap.SubscriptionID, eventAt, existing.LastEventAt)
		return false, nil
	}

	marker, updatedAt := eventAt, eventAt
	if fetched {
		marker = minEventAt
		if existing != nil {
			marker = existing.LastEventAt
		}
		updatedAt = s.now().UTC()
	}

	sub := &models.BillingSubscription{
		UserID:            userID,
		Provider:          models.BillingProviderStripe,
		SubscriptionID:    snap.SubscriptionID,
		CustomerID:        snap.CustomerID,
		PriceID:           snap.PriceID,
		BillingInterval:   s.intervalOf(snap),
		Status:            MapStripeStatus(snap.Status),
		CurrentPeriodEnd:  snap.CurrentPeriodEnd,
		CancelAtPeriodEnd: snap.CancelAtPeriodEnd,
		CancelAt:          snap.CancelAt,
		CanceledAt:        snap.CanceledAt,
		LastEventAt:       marker,
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return false, fmt.Errorf("failed to mirror subscription: %w", err)
	}
	if snap.CustomerID != "" {
		if err := s.RememberCustomer(ctx, userID, snap.CustomerID, ""); err != nil {
			log.Warnf("[Billing] Failed to remember customer %s for %s: %v", snap.CustomerID, userID, err)
		}
	}

	if _, err := s.metadata.UpdatePublicMetadata(ctx, userID, MetadataFromSnapshot(snap, updatedAt).Patch()); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMetadataSync, err)
	}
	log.Infof("[Billing] Applied subscription %s (%s) to user %s", snap.SubscriptionID, sub.Status, userID)
	return true, nil
}

// minEventAt is the earliest instant a MySQL TIMESTAMP column accepts.
var minEventAt = time.Unix(1, 0).UTC()

func (s *Service) intervalOf(snap *SubscriptionSnapshot) string {
	interval := NormalizeInterval(snap.Interval)
	if interval == models.BillingIntervalUnknown {
		interval = s.prices.IntervalForPrice(snap.PriceID)
	}
	return interval
}

// MetadataFromSnapshot builds the Clerk metadata for a snapshot.
func MetadataFromSnapshot(snap *SubscriptionSnapshot, eventAt time.Time) clerk.SubscriptionMetadata {
	return clerk.SubscriptionMetadata{
		IsPro:                 snap.IsPro(),
		SubscriptionStatus:    MapStripeStatus(snap.Status),
		StripeCustomerID:      snap.CustomerID,
		StripeSubscriptionID:  snap.SubscriptionID,
		StripePriceID:         snap.PriceID,
		CancelAtPeriodEnd:     snap.CancelAtPeriodEnd,
		CancelAt:              clerk.UnixPtr(snap.CancelAt),
		CanceledAt:            clerk.UnixPtr(snap.CanceledAt),
		CurrentPeriodEnd:      clerk.UnixPtr(snap.CurrentPeriodEnd),
		SubscriptionUpdatedAt: eventAt.Unix(),
	}
}

// ResolveUser finds the local user of a subscription: subscription metadata
// first, then the checkout client_reference_id, then the customer mapping.
func (s *Service) ResolveUser(ctx context.Context, snap *SubscriptionSnapshot, clientReferenceID string) (string, error) {
	if snap != nil && snap.UserID != "" {
		return snap.UserID, nil
	}
	if ref := strings.TrimSpace(clientReferenceID); ref != "" {
		return ref, nil
	}
	if snap == nil {
		return "", ErrUserNotResolved
	}
	if snap.CustomerID != "" {
		customer, err := s.repo.GetCustomerByCustomerID(ctx, snap.CustomerID)
		if err == nil {
			return customer.UserID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
	}
	if snap.SubscriptionID != "" {
		sub, err := s.repo.GetSubscription(ctx, snap.SubscriptionID)
		if err == nil {
			return sub.UserID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
	}
	return "", ErrUserNotResolved
}

// HandleEvent applies a verified Stripe event. handled is false for event
// types that do not touch subscription state.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	eventType := string(event.Type)
	if !IsHandledEvent(eventType) {
		return false, nil
	}
	eventAt := EventTime(event)

	switch eventType {
	case EventCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := decodeObject(event, &sess); err != nil {
			return true, err
		}
		return true, s.handleCheckoutCompleted(ctx, &sess, eventAt)

	case EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := decodeObject(event, &inv); err != nil {
			return true, err
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return true, nil
		}
		snap, err := s.gateway.GetSubscription(ctx, inv.Subscription.ID)
		if err != nil {
			return true, err
		}
		return true, s.resolveAndApply(ctx, snap, "", eventAt)

	default:
		var sub stripe.Subscription
		if err := decodeObject(event, &sub); err != nil {
			return true, err
		}
		return true, s.resolveAndApply(ctx, SnapshotFromStripe(&sub), "", eventAt)
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession, eventAt time.Time) error {
	userID := strings.TrimSpace(sess.Metadata[MetadataUserIDKey])
	if userID == "" {
		userID = strings.TrimSpace(sess.ClientReferenceID)
	}
	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	email := ""
	if sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}
	if userID != "" && customerID != "" {
		if err := s.RememberCustomer(ctx, userID, customerID, email); err != nil {
			return err
		}
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return nil
	}

	snap, err := s.gateway.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return err
	}
	if snap.CustomerID == "" {
		snap.CustomerID = customerID
	}
	return s.resolveAndApply(ctx, snap, userID, eventAt)
}

func (s *Service) resolveAndApply(ctx context.Context, snap *SubscriptionSnapshot, clientReferenceID string, eventAt time.Time) error {
	userID, err := s.ResolveUser(ctx, snap, clientReferenceID)
	if err != nil {
		return err
	}
	_, err = s.ApplySnapshot(ctx, userID, snap, eventAt)
	return err
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}
