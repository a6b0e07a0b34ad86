package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelConvert/app/controllers"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/middleware"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/trial"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the routes are built from.
type Dependencies struct {
	Billing       controllers.BillingService
	Processor     controllers.ConvertProcessor
	Trials        trial.Store
	Verifier      middleware.TokenVerifier
	Users         middleware.UserLoader
	Metrics       *metrics.Metrics
	WebhookSecret string

	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	RateLimitMax   int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter installs the visitor and session middleware the API
	// routes read the user context from, so it has to go first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
