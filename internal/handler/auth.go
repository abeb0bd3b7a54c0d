package handler

import (
	"errors"
	"log"
	"time"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

// AuthHandler mints principal tokens. Identity management proper lives in
// the identity service; this endpoint exists for service principals and
// operator tooling, which is why it sits behind the admin key.
type AuthHandler struct {
	authSvc *service.AuthService
}

func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// IssueToken mints a token for the requested principal.
// POST /api/v1/auth/token
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req struct {
		Sub      string `json:"sub"`
		Role     string `json:"role"`
		TTLHours int    `json:"ttl_hours"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Role == "" {
		req.Role = model.RoleAuthenticated
	}

	token, err := h.authSvc.IssueToken(
		model.Principal{ID: req.Sub, Role: req.Role},
		time.Duration(req.TTLHours)*time.Hour,
	)
	if err != nil {
		if errors.Is(err, service.ErrUnknownRole) {
			return c.Status(400).JSON(fiber.Map{"error": "unknown role"})
		}
		log.Printf("[auth] token mint failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to issue token"})
	}
	return c.JSON(fiber.Map{"token": token})
}
