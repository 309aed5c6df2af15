package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/tablebridge/internal/superset"
	"github.com/localnerve/tablebridge/internal/types"
)

const authErrorType = "upload.authorization"

// AuthBearer validates an HS256 bearer token signed with secret, the same
// scheme used when re-signing Superset tokens
func AuthBearer(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return authorize(c, secret)
	}
}

// authorize performs the authorization check
func authorize(c *fiber.Ctx, secret []byte) error {
	token, found := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return &types.CustomError{
			Code:    fiber.StatusUnauthorized,
			Message: "Authorization bearer token not found",
			Type:    authErrorType,
		}
	}

	claims, err := superset.VerifyToken(strings.TrimSpace(token), secret)
	if err != nil {
		return &types.CustomError{
			Code:    fiber.StatusUnauthorized,
			Message: fmt.Sprintf("Invalid token: %v", err),
			Type:    authErrorType,
		}
	}

	// Set subject in context
	if sub, ok := claims["sub"]; ok {
		c.Locals("subject", sub)
	}

	return c.Next()
}
