package router

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PixelConvert/app/controllers"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
)

const (
	defaultRateLimitMax = 120
	limiterDatabase     = 1 // the cache uses DB 0
)

// NewLimiterStorage creates the Redis storage for rate limit counters from
// the cache client settings. A nil client keeps the limiter in memory.
func NewLimiterStorage(cacheClient *goredis.Client) fiber.Storage {
	if cacheClient == nil {
		return nil
	}

	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	addr := cacheClient.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	// Prefer password from the underlying client if present
	if p := cacheClient.Options().Password; p != "" {
		password = p
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

func newLimiter(storage fiber.Storage, max int) fiber.Handler {
	if max <= 0 {
		max = env.GetEnvInt("API_RATE_LIMIT_MAX", defaultRateLimitMax)
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ratelimit:" + controllers.ClientIP(c)
		},
		Next: func(c *fiber.Ctx) bool {
			// Webhooks and health checks bypass the limit.
			return strings.HasPrefix(c.Path(), "/api/webhooks/") || c.Path() == "/api/health"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
		},
	})
}
