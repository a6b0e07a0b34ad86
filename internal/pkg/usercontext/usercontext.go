package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/clerk"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     string                     `json:"user_id"`
	SessionID  string                     `json:"session_id"`
	Email      string                     `json:"email"`
	VisitorID  string                     `json:"visitor_id"`
	IsLoggedIn bool                       `json:"is_logged_in"`
	Plan       entitlements.Plan          `json:"plan"`
	Metadata   clerk.SubscriptionMetadata `json:"-"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(LocalsKey).(UserContext); ok {
		return ctx
	}
	visitor, _ := c.Locals(KeyVisitorID).(string)
	return UserContext{VisitorID: visitor, Plan: entitlements.PlanFree}
}

// SetUserContext stores ctx for the rest of the request
func SetUserContext(c *fiber.Ctx, ctx UserContext) {
	c.Locals(LocalsKey, ctx)
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetUserID returns the current user's ID, or "" if not logged in
func GetUserID(c *fiber.Ctx) string {
	return GetUserContext(c).UserID
}

// IsPro reports whether the user is on the pro plan
func (u UserContext) IsPro() bool {
	return u.Plan == entitlements.PlanPro
}

// TrialSubject is the key the free trial is tracked under: the user for
// signed-in requests, the visitor cookie otherwise.
func (u UserContext) TrialSubject() string {
	if u.IsLoggedIn && u.UserID != "" {
		return u.UserID
	}
	return u.VisitorID
}

// Owner identifies who may read an async job.
func (u UserContext) Owner() string {
	return u.TrialSubject()
}
