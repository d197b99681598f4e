package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-agent/internal/domain"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// RequireRole ensures the caller's role grants required.
func RequireRole(required domain.ClientRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.Role.Allows(required) {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
