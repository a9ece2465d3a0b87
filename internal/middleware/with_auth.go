package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/utils"
)

// Principal kind constants used by the WithAuth helper.
const (
	AuthKindAny   = "any"
	AuthKindUser  = models.PrincipalUser
	AuthKindCoach = models.PrincipalCoach
	AuthKindAdmin = models.PrincipalAdmin
)

// AuthOptions configures the WithAuth helper. A principal is required
// unless AllowAnonymous is set, and anonymous access is only honoured for
// AuthKindAny.
type AuthOptions struct {
	Kind           string
	AllowAnonymous bool
}

// WithAuth wraps a handler with basic authentication/authorization guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		kind = AuthKindAny
	}

	allowAnonymous := opts.AllowAnonymous && kind == AuthKindAny

	return func(c *fiber.Ctx) error {
		principal, ok := Principal(c)
		if !ok {
			if allowAnonymous {
				return handler(c)
			}
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		switch kind {
		case AuthKindAny:
		case AuthKindAdmin:
			if principal.Kind != models.PrincipalAdmin {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		case AuthKindCoach:
			// Admins can act wherever coaches can.
			if principal.Kind != models.PrincipalCoach && principal.Kind != models.PrincipalAdmin {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		default:
			if principal.Kind != kind {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		}

		return handler(c)
	}
}
