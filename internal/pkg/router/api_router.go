package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelConvert/app/controllers"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", newLimiter(h.deps.LimiterStorage, h.deps.RateLimitMax))

	billingController := controllers.NewBillingController(h.deps.Billing, h.deps.Trials, h.deps.Metrics, h.deps.WebhookSecret)
	trialController := controllers.NewTrialController(h.deps.Trials, h.deps.Metrics)
	convertController := controllers.NewConvertController(h.deps.Processor, h.deps.Trials, h.deps.Metrics)

	api.Get("/health", controllers.HandleHealth)

	// Stripe authenticates through the signature header
	api.Post("/webhooks/stripe", billingController.HandleStripeWebhook)

	// Billing
	api.Post("/checkout", middleware.RequireAPIAuth, billingController.HandleCheckout)
	api.Post("/portal", middleware.RequireAPIAuth, billingController.HandlePortal)
	api.Get("/subscription", billingController.HandleSubscriptionStatus)
	api.Post("/subscription/cancel", middleware.RequireAPIAuth, billingController.HandleCancelSubscription)
	api.Post("/subscription/resume", middleware.RequireAPIAuth, billingController.HandleResumeSubscription)

	// Trial
	api.Get("/trial", trialController.HandleGetTrial)
	api.Post("/trial/consume", trialController.HandleConsumeTrial)

	// Conversion
	api.Get("/formats", convertController.HandleFormats)
	api.Post("/convert", convertController.HandleConvert)
	api.Post("/inspect", convertController.HandleInspect)

	// Async jobs
	jobs := api.Group("/jobs", middleware.RequireAPIAuth)
	jobs.Post("/", middleware.RequirePro, convertController.HandleSubmitJob)
	jobs.Get("/:id", convertController.HandleJobStatus)
	jobs.Get("/:id/result", convertController.HandleJobResult)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
