package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/abuse"
	"github.com/docspark/api/pkg/response"
)

const (
	msgRateLimited = "Too many requests. Please wait and try again."
	msgActiveLimit = "Too many active conversions from this IP. Please wait for current jobs to finish."
)

type RateLimiter struct {
	guard   *abuse.Guard
	auditor *abuse.Auditor
}

func NewRateLimiter(guard *abuse.Guard, auditor *abuse.Auditor) *RateLimiter {
	return &RateLimiter{guard: guard, auditor: auditor}
}

// Limit creates a fixed-window rate limiting middleware keyed by client IP
func (rl *RateLimiter) Limit(bucket string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := ClientIP(c)
		decision := rl.guard.Allow(c.UserContext(), bucket, ip, maxRequests, window)

		if !decision.Allowed {
			retryAfter := decision.RetryAfterSeconds()
			rl.auditor.Record(abuse.EventRateLimited, RequestInfo(c),
				zap.String("bucket", bucket),
				zap.Int("count", decision.Count),
				zap.Int("limit", maxRequests),
				zap.Int("retryAfterSeconds", retryAfter),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return response.RateLimited(c, msgRateLimited)
		}

		remaining := maxRequests - decision.Count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		return c.Next()
	}
}

// ConvertLimit is the upload bucket (8 per 10 minutes by default)
func (rl *RateLimiter) ConvertLimit(maxRequests int, window time.Duration) fiber.Handler {
	return rl.Limit("convert", maxRequests, window)
}

// ReadLimit is the bucket shared by the job read routes (120 per minute by default)
func (rl *RateLimiter) ReadLimit(maxRequests int, window time.Duration) fiber.Handler {
	return rl.Limit("read", maxRequests, window)
}

// ActiveConversions caps in-flight conversions per client IP. The slot is
// released once the rest of the chain returns.
func (rl *RateLimiter) ActiveConversions() fiber.Handler {
	return func(c *fiber.Ctx) error {
		release, ok := rl.guard.Acquire(c.UserContext(), ClientIP(c))
		if !ok {
			rl.auditor.Record(abuse.EventActiveLimit, RequestInfo(c),
				zap.Int("maxActive", rl.guard.MaxActive()),
			)
			return response.RateLimited(c, msgActiveLimit)
		}
		defer release()
		return c.Next()
	}
}
