package handler

import (
	"errors"
	"log"
	"strconv"
	"time"

	"pulsebase-backend/internal/middleware"
	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/repository"
	"pulsebase-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RealtimeHandler exposes publish, message listing, stats and policy
// introspection.
type RealtimeHandler struct {
	publisher *service.Publisher
	messages  *repository.MessageRepository
	policies  *repository.PolicyRepository
}

func NewRealtimeHandler(publisher *service.Publisher, messages *repository.MessageRepository, policies *repository.PolicyRepository) *RealtimeHandler {
	return &RealtimeHandler{publisher: publisher, messages: messages, policies: policies}
}

// Publish attempts to publish an event. A 200 with null message means the
// publish was not delivered: unmatched channel and policy denial are
// deliberately the same answer.
// POST /api/v1/realtime/publish
func (h *RealtimeHandler) Publish(c *fiber.Ctx) error {
	var req model.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Channel == "" || req.EventName == "" {
		return c.Status(400).JSON(fiber.Map{"error": "channel and event_name are required"})
	}

	principal := middleware.PrincipalFrom(c)
	msg, err := h.publisher.Publish(c.Context(), req.Channel, req.EventName, req.Payload, principal)
	if err != nil {
		if errors.Is(err, service.ErrUnknownRole) {
			return c.Status(400).JSON(fiber.Map{"error": "unknown role"})
		}
		log.Printf("[publish] infra error: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to publish"})
	}
	return c.JSON(fiber.Map{"message": msg})
}

// List returns persisted messages newest first.
// GET /api/v1/realtime/messages?channel_id=&event_name=&limit=&offset=
func (h *RealtimeHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	msgs, err := h.messages.List(c.Context(), model.MessageFilter{
		ChannelID: c.Query("channel_id"),
		EventName: c.Query("event_name"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		log.Printf("[messages] list failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to list messages"})
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// Stats returns the aggregate report.
// GET /api/v1/realtime/stats?channel_id=&since=RFC3339
func (h *RealtimeHandler) Stats(c *fiber.Ctx) error {
	filter := model.StatsFilter{ChannelID: c.Query("channel_id")}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "since must be RFC3339"})
		}
		filter.Since = t
	}

	stats, err := h.messages.Stats(c.Context(), filter)
	if err != nil {
		log.Printf("[stats] query failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to compute stats"})
	}
	return c.JSON(stats)
}

// Policies lists the row-level rules governing publish and subscribe.
// GET /api/v1/realtime/policies
func (h *RealtimeHandler) Policies(c *fiber.Ctx) error {
	report, err := h.policies.Report(c.Context())
	if err != nil {
		log.Printf("[policies] query failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to read policies"})
	}
	return c.JSON(report)
}
