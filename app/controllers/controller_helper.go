package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// jsonError writes the {"error","message"} body every API route answers with.
func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

// ClientIP returns the client address as fiber resolves it. Forwarded
// headers only count when the app trusts the sending proxy, so a client
// cannot choose its own address. IPv4-mapped IPv6 addresses are returned
// as IPv4.
func ClientIP(c *fiber.Ctx) string {
	ip := c.IP()
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = ip[:i]
	}
	return normalizeIP(strings.TrimSpace(ip))
}

func normalizeIP(ip string) string {
	if strings.HasPrefix(ip, "::ffff:") && strings.Contains(ip, ".") {
		return strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}
