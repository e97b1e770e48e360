package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:ledger:"

// RateLimit caps mutating requests per caller (or per IP before the caller
// is known) in fixed one-minute windows using Redis if available.
func RateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		subject := callerOf(c)
		if subject == "" {
			subject = "ip:" + c.IP()
		}
		key := rateLimitPrefix + subject

		// EXPIRE NX runs on every hit, so a counter left without a TTL by
		// an earlier failure still gets its window.
		var incr *redis.IntCmd
		_, err := cache.TxPipelined(c.UserContext(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.UserContext(), key)
			pipe.ExpireNX(c.UserContext(), key, time.Minute)
			return nil
		})
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if incr.Val() > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
