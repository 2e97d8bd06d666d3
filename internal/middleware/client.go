package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/docspark/api/internal/abuse"
)

// ClientIP returns the first X-Forwarded-For hop, falling back to the
// connection address.
func ClientIP(c *fiber.Ctx) string {
	for _, ip := range c.IPs() {
		if ip = strings.TrimSpace(ip); ip != "" {
			return ip
		}
	}
	return c.IP()
}

// RequestInfo describes the caller for security audit events.
func RequestInfo(c *fiber.Ctx) abuse.RequestInfo {
	return abuse.RequestInfo{
		IP:        ClientIP(c),
		Method:    c.Method(),
		Path:      c.Path(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}
