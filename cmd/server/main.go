package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/vmelnikau/echolink/internal/cache"
	"github.com/vmelnikau/echolink/internal/config"
	"github.com/vmelnikau/echolink/internal/handlers"
	"github.com/vmelnikau/echolink/internal/handlers/ws"
	"github.com/vmelnikau/echolink/internal/repository"
	"github.com/vmelnikau/echolink/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "EchoLink Backend",
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New())

	// Initialize database connection
	db, err := repository.InitDB(cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	// Initialize Redis presence mirror (optional; nil-safe when absent)
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running without presence mirror.", err)
		redisCache = nil
	} else {
		log.Println("Redis connected successfully")
	}
	presenceCache := cache.NewPresenceCache(redisCache)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// Initialize services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	chatService := service.NewChatService(chatRepo, userRepo)
	messageService := service.NewMessageService(chatRepo, messageRepo)
	syncService := service.NewSyncService(userRepo, chatRepo, messageRepo, service.SyncLimits{
		MaxChats:           cfg.MaxChats,
		MaxMessages:        cfg.MaxMessages,
		MaxMetadataChats:   cfg.MaxMetadataChats,
		MetadataSyncOffset: cfg.MetadataSyncOffset,
	})

	// Presence registry and outbox scheduler. A dropped connection
	// discards its pending envelopes; pull sync recovers them.
	hub := ws.NewHub(cfg.PingInterval, cfg.PongTimeout)
	outbox := ws.NewOutbox(hub.WriteToUser, hub.IsOnline, cfg.SendMessageInterval, cfg.AckTimeout)
	hub.OnDisconnect(outbox.DeleteUser)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(authService, chatService, messageService, syncService, hub, outbox, presenceCache, cfg.PongTimeout)
	authHandler := handlers.NewAuthHandler(authService)

	// Public routes
	api := app.Group("/api")
	auth := api.Group("/auth", limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
	}))
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	// WebSocket route (connections authenticate in-band)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "EchoLink is running",
		})
	})

	log.Printf("Server starting on port %s...", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
