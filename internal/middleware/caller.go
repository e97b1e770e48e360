package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/assetledger/internal/auth"
)

// CallerLocal is the fiber local holding the authenticated account id.
const CallerLocal = "account_id"

// Caller returns a middleware that verifies the HS256 bearer token issued by
// the auth service and stores its subject as the caller account.
func Caller(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := auth.ParseAndVerifyHS256(tokenStr, secret)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		sub, err := auth.Subject(claims, time.Now())
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}

		c.Locals(CallerLocal, sub)
		return c.Next()
	}
}

func callerOf(c *fiber.Ctx) string {
	id, _ := c.Locals(CallerLocal).(string)
	return id
}
