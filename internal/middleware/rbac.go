package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fitversal/messaging-api/internal/utils"
)

// RequireKind ensures that the authenticated principal is one of the allowed kinds.
func RequireKind(kinds ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		normalized := strings.ToLower(strings.TrimSpace(kind))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		kindValue := c.Locals("principal_kind")
		kind := normalizeLocalValue(kindValue)
		if _, ok := allowed[kind]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

func normalizeLocalValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		if value == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
