package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
)

// ApplyProxyConfig lets fiber resolve the client address from a proxy header,
// but only for requests arriving from TRUSTED_PROXIES. Without trusted
// proxies the socket address is used and forwarded headers are ignored.
func ApplyProxyConfig(cfg *fiber.Config) {
	var trusted []string
	for _, p := range strings.Split(env.GetEnv("TRUSTED_PROXIES", ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			trusted = append(trusted, p)
		}
	}
	if len(trusted) == 0 {
		return
	}
	cfg.ProxyHeader = env.GetEnv("PROXY_HEADER", fiber.HeaderXForwardedFor)
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = trusted
	cfg.EnableIPValidation = true
}
