package usercontext

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
)

func TestGetUserContextDefaultsToAnonymous(t *testing.T) {
	app := fiber.New()
	var got UserContext
	app.Get("/", func(c *fiber.Ctx) error {
		c.Locals(KeyVisitorID, "visitor-1")
		got = GetUserContext(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	_, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.False(t, got.IsLoggedIn)
	assert.Equal(t, entitlements.PlanFree, got.Plan)
	assert.Equal(t, "visitor-1", got.TrialSubject())
}

func TestTrialSubjectPrefersUser(t *testing.T) {
	u := UserContext{UserID: "user_1", VisitorID: "visitor-1", IsLoggedIn: true, Plan: entitlements.PlanPro}
	assert.Equal(t, "user_1", u.TrialSubject())
	assert.Equal(t, "user_1", u.Owner())
	assert.True(t, u.IsPro())

	u.IsLoggedIn = false
	assert.Equal(t, "visitor-1", u.TrialSubject())
}
