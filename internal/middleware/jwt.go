package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/utils"
)

// PrincipalKey is the Locals key holding the authenticated principal.
const PrincipalKey = "principal"

// JWTProtected returns a middleware that validates JWT bearer tokens and
// resolves the authenticated principal (user, coach or admin) into Locals.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		principal := principalFromClaims(claims)
		if !principal.Valid() {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token subject")
		}

		c.Locals(PrincipalKey, principal)
		c.Locals("user_id", principal.ID)
		c.Locals("principal_kind", principal.Kind)

		return c.Next()
	}
}

// Principal extracts the authenticated principal from the request, if any.
func Principal(c *fiber.Ctx) (models.Principal, bool) {
	value := c.Locals(PrincipalKey)
	if value == nil {
		return models.Principal{}, false
	}
	principal, ok := value.(models.Principal)
	if !ok || !principal.Valid() {
		return models.Principal{}, false
	}
	return principal, true
}

func principalFromClaims(claims jwt.MapClaims) models.Principal {
	principal := models.Principal{Kind: models.PrincipalUser}

	if id := extractSubjectID(claims); id != nil {
		principal.ID = *id
	}
	if kind := extractPrincipalKind(claims); kind != "" {
		principal.Kind = kind
	}

	return principal
}

func extractSubjectID(claims jwt.MapClaims) *uint {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized, err := normalizeSubjectID(value); err == nil {
				return &normalized
			}
		}
	}

	return nil
}

func normalizeSubjectID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	default:
		return 0, fmt.Errorf("unsupported subject type")
	}
}

func extractPrincipalKind(claims jwt.MapClaims) string {
	candidates := []string{"kind", "role", "roles"}
	for _, key := range candidates {
		if value, ok := claims[key]; ok {
			if kind := normalizeKindValue(value); kind != "" {
				return kind
			}
		}
	}
	return ""
}

func normalizeKindValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return canonicalKind(v)
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				if kind := canonicalKind(str); kind != "" {
					return kind
				}
			}
		}
	}
	return ""
}

func canonicalKind(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case models.PrincipalUser, "client", "member":
		return models.PrincipalUser
	case models.PrincipalCoach, "trainer":
		return models.PrincipalCoach
	case models.PrincipalAdmin:
		return models.PrincipalAdmin
	default:
		return ""
	}
}
