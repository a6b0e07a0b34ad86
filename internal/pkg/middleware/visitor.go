package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/usercontext"
)

const visitorCookieMaxAge = 365 * 24 * time.Hour

// VisitorMiddleware makes sure every client carries a pc_visitor cookie so
// anonymous trials can be tracked. Malformed values are replaced.
func VisitorMiddleware(c *fiber.Ctx) error {
	visitorID := c.Cookies(usercontext.VisitorCookie)
	if _, err := uuid.Parse(visitorID); err != nil {
		visitorID = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     usercontext.VisitorCookie,
			Value:    visitorID,
			Path:     "/",
			MaxAge:   int(visitorCookieMaxAge / time.Second),
			Expires:  time.Now().Add(visitorCookieMaxAge),
			HTTPOnly: true,
			Secure:   !env.IsDev(),
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	c.Locals(usercontext.KeyVisitorID, visitorID)
	return c.Next()
}
