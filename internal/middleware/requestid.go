package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDLocal  = "request_id"

	maxRequestIDLen = 128
)

// RequestID tags every request with an id, echoed in the response header
// and kept in locals for the audit log. An inbound id is reused only when
// it is short printable ASCII; anything else is replaced with a UUID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		} else {
			id = utils.CopyString(id)
		}
		c.Set(requestIDHeader, id)
		c.Locals(requestIDLocal, id)
		return c.Next()
	}
}

// RequestIDOf returns the id assigned by RequestID, or "".
func RequestIDOf(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDLocal).(string)
	return id
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
