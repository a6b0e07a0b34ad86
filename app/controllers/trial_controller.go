package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/trial"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/usercontext"
)

// TrialController exposes the one-time free conversion flag
type TrialController struct {
	trials  trial.Store
	metrics *metrics.Metrics
}

func NewTrialController(trials trial.Store, m *metrics.Metrics) *TrialController {
	return &TrialController{trials: trials, metrics: m}
}

// HandleGetTrial returns {"trial_used"} for the caller
func (tc *TrialController) HandleGetTrial(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	used, err := tc.trials.IsUsed(ctx, userCtx.TrialSubject())
	if err != nil {
		log.Errorf("[Trial] Failed to read flag: %v", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "trial_unavailable", "trial state could not be read")
	}
	return c.JSON(fiber.Map{"trial_used": used})
}

// HandleConsumeTrial marks the trial used; repeated calls are no-ops
func (tc *TrialController) HandleConsumeTrial(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	subject := userCtx.TrialSubject()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	used, err := tc.trials.IsUsed(ctx, subject)
	if err == nil && !used {
		if err = tc.trials.MarkUsed(ctx, subject); err == nil {
			tc.metrics.TrialConsumed()
		}
	}
	if err != nil {
		log.Errorf("[Trial] Failed to consume trial for %s: %v", subject, err)
		return jsonError(c, fiber.StatusServiceUnavailable, "trial_unavailable", "trial state could not be updated")
	}
	return c.JSON(fiber.Map{"trial_used": true})
}
