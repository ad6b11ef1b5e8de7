package api

import (
	"crypto/subtle"
	"strings"

	"wallet-migrator/internal/backend"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// ServiceAuth validates the Bearer service token on every request
func ServiceAuth(expectedToken string, logger *zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			logger.Warn().Str("path", c.Path()).Msg("Missing Authorization header")
			return c.Status(fiber.StatusUnauthorized).JSON(backend.ErrorResponse{
				Error: "authentication token missing",
			})
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(expectedToken)) != 1 {
			logger.Warn().Str("path", c.Path()).Msg("Invalid service token")
			return c.Status(fiber.StatusUnauthorized).JSON(backend.ErrorResponse{
				Error: "invalid authentication token",
			})
		}

		return c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		logger.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Msg("Request handled")
		return err
	}
}
