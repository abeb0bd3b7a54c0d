package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulsebase-backend/internal/config"
	"pulsebase-backend/internal/database"
	"pulsebase-backend/internal/handler"
	"pulsebase-backend/internal/middleware"
	"pulsebase-backend/internal/repository"
	"pulsebase-backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg := config.Load()

	// Database
	db, err := database.NewPool(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(context.Background(), db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations applied successfully")

	// Repositories
	channelRepo := repository.NewChannelRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	policyRepo := repository.NewPolicyRepository(db)

	// Services: the explicit graph replaces any process-wide singletons.
	authSvc := service.NewAuthService(cfg.JWTSecret)
	authCtx := service.NewAuthContext(db)
	registry := service.NewChannelRegistry(channelRepo)
	hub := service.NewWSHub(cfg.WSSendTimeout)
	webhooks := service.NewWebhookService(cfg.WebhookTimeout, cfg.WebhookRetries)
	dispatcher := service.NewDispatcher(hub, registry, webhooks, messageRepo, cfg.WebhookConcurrency)
	publisher := service.NewPublisher(db, registry, authCtx, messageRepo)
	listener := service.NewListener(db, messageRepo, dispatcher, cfg.ReconcileInterval, cfg.ReconcileGrace)

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // 1MB
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())
	app.Use(cors.New())

	// Health
	healthH := handler.NewHealthHandler(db, hub)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	// API v1
	v1 := app.Group("/api/v1")

	// Token minting (admin key)
	authH := handler.NewAuthHandler(authSvc)
	v1.Post("/auth/token", middleware.AdminKey(cfg.AdminKey), authH.IssueToken)

	// Admin: channel management and retention
	admin := v1.Group("/admin", middleware.AdminKey(cfg.AdminKey))
	channelH := handler.NewChannelHandler(registry, messageRepo)
	admin.Get("/channels", channelH.List)
	admin.Post("/channels", channelH.Create)
	admin.Get("/channels/:id", channelH.Get)
	admin.Put("/channels/:id", channelH.Update)
	admin.Delete("/channels/:id", channelH.Delete)
	admin.Post("/retention/cleanup", channelH.RetentionCleanup)

	// Realtime surface (anonymous allowed; the store's policies decide)
	realtimeH := handler.NewRealtimeHandler(publisher, messageRepo, policyRepo)
	realtime := v1.Group("/realtime", middleware.Principal(authSvc))
	realtime.Post("/publish", middleware.RateLimit(60, time.Minute), realtimeH.Publish)
	realtime.Get("/messages", realtimeH.List)
	realtime.Get("/stats", realtimeH.Stats)
	realtime.Get("/policies", realtimeH.Policies)

	// WebSocket
	wsH := handler.NewWSHandler(hub, authSvc, authCtx)
	app.Get("/ws", wsH.Upgrade)

	// Background workers
	go hub.Run()
	listenCtx, stopListener := context.WithCancel(context.Background())
	go listener.Run(listenCtx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Printf("pulsebase backend running on :%s (%s)", cfg.Port, cfg.Env)

	<-quit
	log.Println("Shutting down...")
	_ = app.ShutdownWithTimeout(5 * time.Second)
	stopListener()
	dispatcher.Shutdown()
	hub.Shutdown()
	log.Println("Server stopped")
}
