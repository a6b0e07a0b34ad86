package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/billing"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/cache"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/clerk"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/converter"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/database"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/router"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/trial"
)

// multipart framing on top of the largest allowed file
const bodyOverhead = 1 << 20

func main() {
	app := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		fiberlog.Info("[Server] Shutting down")
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	m := metrics.Default()

	processor, err := converter.NewProcessorFromEnv(cache.GetClient(), cache.Reachable(), m)
	if err != nil {
		panic(err)
	}

	clerkClient := clerk.NewClientFromEnv()
	deps := router.Dependencies{
		Billing:       billing.NewServiceFromDB(database.GetDB(), clerkClient),
		Processor:     processor,
		Trials:        trial.NewStore(cache.GetClient(), cache.Reachable()),
		Users:         clerkClient,
		Metrics:       m,
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	}
	if verifier, err := clerk.NewVerifierFromEnv(context.Background()); err != nil {
		fiberlog.Warnf("[Auth] Session verification disabled: %v", err)
	} else {
		deps.Verifier = verifier
	}
	if deps.WebhookSecret == "" {
		fiberlog.Warn("[Billing] STRIPE_WEBHOOK_SECRET not set; all webhooks will be rejected")
	}
	if cache.Reachable() {
		deps.LimiterStorage = router.NewLimiterStorage(cache.GetClient())
	}

	// init fiber app
	cfg := fiber.Config{
		AppName:   "PixelConvert",
		BodyLimit: int(entitlements.MaxUploadBytes(entitlements.PlanPro)) + bodyOverhead,
	}
	router.ApplyProxyConfig(&cfg)
	app := fiber.New(cfg)

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, deps)

	app.Hooks().OnShutdown(func() error {
		processor.Stop()
		return nil
	})

	return app
}
