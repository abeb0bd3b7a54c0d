package handler

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/repository"
	"pulsebase-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ChannelHandler is the administrative channel surface.
type ChannelHandler struct {
	registry *service.ChannelRegistry
	messages *repository.MessageRepository
}

func NewChannelHandler(registry *service.ChannelRegistry, messages *repository.MessageRepository) *ChannelHandler {
	return &ChannelHandler{registry: registry, messages: messages}
}

// Create registers a new channel.
// POST /api/v1/admin/channels
func (h *ChannelHandler) Create(c *fiber.Ctx) error {
	var req model.CreateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	req.Pattern = strings.TrimSpace(req.Pattern)
	if req.Pattern == "" {
		return c.Status(400).JSON(fiber.Map{"error": "pattern is required"})
	}

	ch, err := h.registry.Create(c.Context(), &req)
	if err != nil {
		if errors.Is(err, repository.ErrChannelExists) {
			return c.Status(409).JSON(fiber.Map{"error": "channel pattern already exists"})
		}
		log.Printf("[channels] create failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create channel"})
	}
	return c.Status(201).JSON(ch)
}

// Update applies a partial update.
// PUT /api/v1/admin/channels/:id
func (h *ChannelHandler) Update(c *fiber.Ctx) error {
	var req model.UpdateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Pattern != nil && strings.TrimSpace(*req.Pattern) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "pattern cannot be empty"})
	}

	ch, err := h.registry.Update(c.Context(), c.Params("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrChannelNotFound):
			return c.Status(404).JSON(fiber.Map{"error": "channel not found"})
		case errors.Is(err, repository.ErrChannelExists):
			return c.Status(409).JSON(fiber.Map{"error": "channel pattern already exists"})
		}
		log.Printf("[channels] update failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to update channel"})
	}
	return c.JSON(ch)
}

// Delete removes a channel. In-flight dispatches keep the definition they
// already resolved; later dispatches see the channel as gone.
// DELETE /api/v1/admin/channels/:id
func (h *ChannelHandler) Delete(c *fiber.Ctx) error {
	if err := h.registry.Delete(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, repository.ErrChannelNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "channel not found"})
		}
		log.Printf("[channels] delete failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to delete channel"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Get returns one channel by id.
// GET /api/v1/admin/channels/:id
func (h *ChannelHandler) Get(c *fiber.Ctx) error {
	ch, err := h.registry.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, repository.ErrChannelNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "channel not found"})
		}
		log.Printf("[channels] get failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to get channel"})
	}
	return c.JSON(ch)
}

// List returns all channels in creation order.
// GET /api/v1/admin/channels
func (h *ChannelHandler) List(c *fiber.Ctx) error {
	channels, err := h.registry.List(c.Context())
	if err != nil {
		log.Printf("[channels] list failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to list channels"})
	}
	if channels == nil {
		channels = []model.Channel{}
	}
	return c.JSON(fiber.Map{"channels": channels})
}

// RetentionCleanup bulk-deletes messages older than the given number of
// days. Deletion is whole-row, so the count invariants are unaffected.
// POST /api/v1/admin/retention/cleanup?days=30
func (h *ChannelHandler) RetentionCleanup(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "30"))
	if err != nil || days < 1 {
		return c.Status(400).JSON(fiber.Map{"error": "days must be a positive integer"})
	}

	deleted, err := h.messages.DeleteOlderThan(c.Context(), days)
	if err != nil {
		log.Printf("[channels] retention cleanup failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to delete old messages"})
	}
	log.Printf("[channels] retention cleanup removed %d message(s) older than %dd", deleted, days)
	return c.JSON(fiber.Map{"deleted": deleted})
}
