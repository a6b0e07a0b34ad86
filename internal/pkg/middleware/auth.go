package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/clerk"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/paywall"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/usercontext"
)

// TokenVerifier validates a session token.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*clerk.Session, error)
}

// UserLoader fetches the user record including public metadata.
type UserLoader interface {
	GetUser(ctx context.Context, userID string) (*clerk.User, error)
}

// SessionMiddleware resolves the Clerk session, if any, into the user
// context. Requests without a valid token continue anonymously.
func SessionMiddleware(verifier TokenVerifier, users UserLoader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		visitorID, _ := c.Locals(usercontext.KeyVisitorID).(string)
		userCtx := usercontext.UserContext{VisitorID: visitorID, Plan: entitlements.PlanFree}

		token := extractSessionToken(c)
		if token == "" || verifier == nil {
			usercontext.SetUserContext(c, userCtx)
			return c.Next()
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
		defer cancel()

		sess, err := verifier.Verify(ctx, token)
		if err != nil {
			log.Debugf("[Auth] Rejected session token: %v", err)
			usercontext.SetUserContext(c, userCtx)
			return c.Next()
		}

		userCtx.UserID = sess.UserID
		userCtx.SessionID = sess.SessionID
		userCtx.IsLoggedIn = true

		if users != nil {
			user, err := users.GetUser(ctx, sess.UserID)
			if err != nil {
				// Without metadata the user is treated as free until Clerk answers again.
				log.Warnf("[Auth] Failed to load user %s: %v", sess.UserID, err)
			} else {
				userCtx.Email = user.Email
				md, err := user.SubscriptionMetadata()
				if err != nil {
					log.Warnf("[Auth] Invalid subscription metadata for %s: %v", sess.UserID, err)
				}
				userCtx.Metadata = md
				if paywall.Evaluate(md, true, time.Now()).IsPro {
					userCtx.Plan = entitlements.PlanPro
				}
			}
		}

		usercontext.SetUserContext(c, userCtx)
		return c.Next()
	}
}

func extractSessionToken(c *fiber.Ctx) string {
	if auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
	}
	return strings.TrimSpace(c.Cookies(usercontext.SessionCookie))
}

// RequireAPIAuth ensures a verified session and returns JSON 401 otherwise.
func RequireAPIAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequirePro ensures the user has an entitling subscription.
func RequirePro(c *fiber.Ctx) error {
	if !usercontext.GetUserContext(c).IsPro() {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "payment_required",
			"message": "a pro subscription is required",
		})
	}
	return c.Next()
}
