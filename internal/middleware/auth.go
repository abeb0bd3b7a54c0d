package middleware

import (
	"strings"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

const principalKey = "principal"

// Principal resolves the caller's identity from a bearer token. A missing
// header yields the anonymous principal (the store's policies decide what
// anon may do); a malformed or invalid token is rejected outright.
func Principal(authSvc *service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			c.Locals(principalKey, model.Anonymous())
			return c.Next()
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(401).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		p, err := authSvc.ValidateToken(tokenString)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(principalKey, p)
		return c.Next()
	}
}

// PrincipalFrom returns the principal set by the Principal middleware,
// falling back to anonymous if the route skipped it.
func PrincipalFrom(c *fiber.Ctx) model.Principal {
	if p, ok := c.Locals(principalKey).(model.Principal); ok {
		return p
	}
	return model.Anonymous()
}

// AdminKey guards the administrative surface with a shared header key.
func AdminKey(expectedKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-Admin-Key")
		if key == "" || key != expectedKey {
			return c.Status(403).JSON(fiber.Map{"error": "invalid admin key"})
		}
		return c.Next()
	}
}
