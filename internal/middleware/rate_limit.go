package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/fitversal/messaging-api/internal/models"
)

// RateLimit creates a per-principal rate limiter middleware instance.
// Anonymous requests fall back to the client IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			key := c.IP()
			if value := c.Locals(PrincipalKey); value != nil {
				if principal, ok := value.(models.Principal); ok && principal.Valid() {
					key = principal.Key()
				}
			}
			return fmt.Sprintf("%s:%s", identifier, key)
		},
	})
}
