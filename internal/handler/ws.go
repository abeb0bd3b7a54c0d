package handler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/service"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WSHandler upgrades live connections and handles the thin client
// protocol: subscribe/unsubscribe against literal channel names, plus
// ping. Subscription admission goes through the authorization bridge.
type WSHandler struct {
	hub     *service.WSHub
	authSvc *service.AuthService
	authz   *service.AuthContext
}

func NewWSHandler(hub *service.WSHub, authSvc *service.AuthService, authz *service.AuthContext) *WSHandler {
	return &WSHandler{hub: hub, authSvc: authSvc, authz: authz}
}

func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		// Validate JWT from query param
		token := c.Query("token")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "token required"})
		}

		p, err := h.authSvc.ValidateToken(token)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		c.Locals("principal", p)
		return websocket.New(h.handleConnection)(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *WSHandler) handleConnection(c *websocket.Conn) {
	p, _ := c.Locals("principal").(model.Principal)

	client := &service.WSClient{
		Conn:        c,
		PrincipalID: p.ID,
		Role:        p.Role,
		Send:        make(chan []byte, 256),
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	// Writer goroutine
	go func() {
		defer c.Close()
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader loop
	c.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			break
		}

		// Reset deadline on any message
		c.SetReadDeadline(time.Now().Add(60 * time.Second))

		var event model.WSEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}

		switch event.Type {
		case "ping":
			pong, _ := json.Marshal(model.WSEvent{Type: "pong"})
			select {
			case client.Send <- pong:
			default:
			}
		case "subscribe":
			h.subscribe(client, p, event.Channel)
		case "unsubscribe":
			if event.Channel != "" {
				h.hub.Unsubscribe(client, event.Channel)
				h.reply(client, "unsubscribed", event.Channel)
			}
		default:
			log.Printf("WS: unknown event type %s from %s", event.Type, p.ID)
		}
	}
}

func (h *WSHandler) subscribe(client *service.WSClient, p model.Principal, channelName string) {
	if channelName == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := h.authz.CanSubscribe(ctx, p, channelName)
	if err != nil {
		log.Printf("WS: subscribe probe failed for %s on %s: %v", p.ID, channelName, err)
		return
	}
	if !ok {
		h.reply(client, "subscribe_denied", channelName)
		return
	}

	h.hub.Subscribe(client, channelName)
	h.reply(client, "subscribed", channelName)
}

func (h *WSHandler) reply(client *service.WSClient, eventType, channelName string) {
	data, err := json.Marshal(model.WSEvent{Type: eventType, Channel: channelName})
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}
