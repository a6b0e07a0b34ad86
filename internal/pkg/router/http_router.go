package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	if h.deps.Metrics != nil {
		app.Use(h.deps.Metrics.Middleware())
		app.Get("/metrics", h.deps.Metrics.Handler())
	}
	app.Get("/monitor", monitor.New(monitor.Config{Title: "PixelConvert Monitor"}))

	// Identity for every request: visitor cookie first, then the Clerk session.
	app.Use(middleware.VisitorMiddleware)
	app.Use(middleware.SessionMiddleware(h.deps.Verifier, h.deps.Users))
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
