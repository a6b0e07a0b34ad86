package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/PixelConvert/app/models"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/billing"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/clerk"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/paywall"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/trial"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/usercontext"
)

const stripeSignatureHeader = "Stripe-Signature"

var validate = validator.New()

// BillingService is what the billing routes need from internal/pkg/billing.
type BillingService interface {
	StartCheckout(ctx context.Context, userID, email, interval string, md clerk.SubscriptionMetadata) (*billing.CheckoutSession, error)
	PortalURL(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (string, error)
	CancelSubscription(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (*billing.SubscriptionSnapshot, error)
	ResumeSubscription(ctx context.Context, userID string, md clerk.SubscriptionMetadata) (*billing.SubscriptionSnapshot, error)
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
	HandleEvent(ctx context.Context, event *stripe.Event) (bool, error)
}

// BillingController handles checkout, portal, subscription and webhook routes
type BillingController struct {
	billing       BillingService
	trials        trial.Store
	metrics       *metrics.Metrics
	webhookSecret string
	now           func() time.Time
}

// NewBillingController creates a billing controller with its dependencies
func NewBillingController(svc BillingService, trials trial.Store, m *metrics.Metrics, webhookSecret string) *BillingController {
	return &BillingController{
		billing:       svc,
		trials:        trials,
		metrics:       m,
		webhookSecret: webhookSecret,
		now:           time.Now,
	}
}

type checkoutRequest struct {
	Interval string `json:"interval" validate:"required"`
}

// HandleCheckout starts a Stripe checkout session for the signed-in user
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "request body must be JSON")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_interval", "interval is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sess, err := bc.billing.StartCheckout(ctx, userCtx.UserID, userCtx.Email, req.Interval, userCtx.Metadata)
	if err != nil {
		return bc.billingError(c, "checkout", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": sess.URL, "session_id": sess.ID})
}

// HandlePortal returns a Stripe billing portal link
func (bc *BillingController) HandlePortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url, err := bc.billing.PortalURL(ctx, userCtx.UserID, userCtx.Metadata)
	if err != nil {
		return bc.billingError(c, "portal", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": url})
}

// HandleCancelSubscription schedules cancellation at the end of the period
func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	return bc.changeCancellation(c, "cancel", bc.billing.CancelSubscription)
}

// HandleResumeSubscription reverts a scheduled cancellation
func (bc *BillingController) HandleResumeSubscription(c *fiber.Ctx) error {
	return bc.changeCancellation(c, "resume", bc.billing.ResumeSubscription)
}

func (bc *BillingController) changeCancellation(
	c *fiber.Ctx,
	op string,
	call func(context.Context, string, clerk.SubscriptionMetadata) (*billing.SubscriptionSnapshot, error),
) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	snap, err := call(ctx, userCtx.UserID, userCtx.Metadata)
	if err != nil {
		return bc.billingError(c, op, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":               snap.Status,
		"cancel_at_period_end": snap.CancelAtPeriodEnd,
		"cancel_at":            snap.CancelAt,
		"current_period_end":   snap.CurrentPeriodEnd,
	})
}

// HandleSubscriptionStatus returns the paywall status used by banners
func (bc *BillingController) HandleSubscriptionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trialUsed, err := bc.trials.IsUsed(ctx, userCtx.TrialSubject())
	if err != nil {
		// Unknown trial state must not unlock a free conversion.
		log.Warnf("[Billing] Failed to read trial flag: %v", err)
		trialUsed = true
	}
	return c.Status(fiber.StatusOK).JSON(paywall.Evaluate(userCtx.Metadata, trialUsed, bc.now()))
}

// HandleStripeWebhook verifies, records and applies a Stripe event
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	event, err := billing.ParseWebhook(rawBody, c.Get(stripeSignatureHeader), bc.webhookSecret)
	if err != nil {
		log.Warnf("[Billing] Rejected webhook: %v", err)
		bc.metrics.ObserveWebhook("unknown", metrics.ResultDenied)
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
	}
	eventType := string(event.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := bc.billing.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Errorf("[Billing] Failed to persist webhook %s: %v", event.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", err.Error())
	}
	if !created && stored.IsProcessed() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	handled, procErr := bc.billing.HandleEvent(ctx, event)
	switch {
	case !handled:
		_ = bc.billing.MarkWebhookProcessed(ctx, stored.ID, nil)
		bc.metrics.ObserveWebhook(eventType, metrics.ResultIgnored)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})

	case errors.Is(procErr, billing.ErrUserNotResolved):
		// Retrying cannot help; keep the error on the event row.
		_ = bc.billing.MarkWebhookProcessed(ctx, stored.ID, procErr)
		log.Warnf("[Billing] Webhook %s (%s) has no local user", event.ID, eventType)
		bc.metrics.ObserveWebhook(eventType, metrics.ResultIgnored)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})

	case procErr != nil:
		_ = bc.billing.MarkWebhookProcessed(ctx, stored.ID, procErr)
		log.Errorf("[Billing] Webhook %s (%s) failed: %v", event.ID, eventType, procErr)
		bc.metrics.ObserveWebhook(eventType, metrics.ResultError)
		return jsonError(c, fiber.StatusInternalServerError, "webhook_processing_failed", procErr.Error())
	}

	_ = bc.billing.MarkWebhookProcessed(ctx, stored.ID, nil)
	bc.metrics.ObserveWebhook(eventType, metrics.ResultSuccess)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (bc *BillingController) billingError(c *fiber.Ctx, op string, err error) error {
	var pe *billing.ProviderError
	switch {
	case errors.Is(err, billing.ErrInvalidInterval):
		return jsonError(c, fiber.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, billing.ErrAlreadyPro):
		return jsonError(c, fiber.StatusConflict, "already_subscribed", err.Error())
	case errors.Is(err, billing.ErrNoCustomer):
		return jsonError(c, fiber.StatusNotFound, "no_customer", err.Error())
	case errors.Is(err, billing.ErrNoSubscription):
		return jsonError(c, fiber.StatusNotFound, "no_subscription", err.Error())
	case errors.Is(err, billing.ErrMetadataSync):
		log.Errorf("[Billing] %s succeeded at Stripe but metadata sync failed: %v", op, err)
		return jsonError(c, fiber.StatusBadGateway, "metadata_sync_failed", err.Error())
	case errors.As(err, &pe):
		log.Warnf("[Billing] %s failed at Stripe: %v", op, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":           "stripe_error",
			"message":         pe.Message,
			"provider_status": pe.StatusCode,
		})
	default:
		log.Errorf("[Billing] %s failed: %v", op, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", err.Error())
	}
}
