package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/recibo/pkg/kernel"
)

const localsKey = "auth"

// Middleware authenticates requests and stashes the identity in locals.
type Middleware struct {
	tokens *JWTService
}

func NewMiddleware(tokens *JWTService) *Middleware {
	return &Middleware{tokens: tokens}
}

// Authenticate validates the bearer token and injects the AuthContext.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return authErrors.New(ErrMissingToken)
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return authErrors.New(ErrMissingToken)
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			return err
		}

		c.Locals(localsKey, &kernel.AuthContext{
			UserID:   &claims.UserID,
			TenantID: claims.TenantID,
			Email:    claims.Email,
			Scopes:   claims.Scopes,
		})
		return c.Next()
	}
}

// RequireScope rejects requests whose identity lacks the scope.
func (m *Middleware) RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac := FromCtx(c)
		if ac == nil {
			return authErrors.New(ErrMissingToken)
		}
		if !ac.HasScope(scope) {
			return authErrors.New(ErrForbidden).WithDetail("scope", scope)
		}
		return c.Next()
	}
}

// FromCtx returns the AuthContext set by Authenticate, or nil.
func FromCtx(c *fiber.Ctx) *kernel.AuthContext {
	ac, _ := c.Locals(localsKey).(*kernel.AuthContext)
	return ac
}
