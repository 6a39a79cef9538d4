package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/teamdock/portal/internal/auth"
	"github.com/teamdock/portal/internal/config"
	"github.com/teamdock/portal/internal/handler"
	"github.com/teamdock/portal/internal/middleware"
	"github.com/teamdock/portal/internal/service"
	ws "github.com/teamdock/portal/internal/websocket"
	"github.com/teamdock/portal/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Token service and optional SSO verifier
	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer,
		cfg.JWT.SessionTTL, cfg.JWT.BridgeTTL, redisClient)

	var verifier auth.SSOVerifier
	if cfg.SSO.Issuer != "" {
		v, err := auth.NewJWKSVerifier(cfg.SSO.Issuer, cfg.SSO.ClientID)
		if err != nil {
			log.Printf("Warning: SSO verifier unavailable: %v", err)
		} else {
			verifier = v
		}
	}

	// Initialize services
	workspaceService := service.NewWorkspaceService(redisClient, asynqClient)
	teamService := service.NewTeamService(redisClient, asynqClient)

	// Initialize handlers
	workspaceHandler := handler.NewWorkspaceHandler(workspaceService, validate)
	teamHandler := handler.NewTeamHandler(teamService, validate)
	bridgeHandler := handler.NewBridgeHandler(tokens, teamService, validate)
	authHandler := handler.NewAuthHandler(verifier, tokens)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Auth routes (no session required)
	app.Post("/auth/sso/exchange", authHandler.SSOExchange)
	app.Post("/auth/bridge/exchange", bridgeHandler.Exchange)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	lifecycle := rateLimiter.LifecycleLimit(cfg.RateLimit.LifecyclePerHour)

	// Workspace routes
	workspaces := api.Group("/workspaces")
	workspaces.Post("/", lifecycle, workspaceHandler.Create)
	workspaces.Delete("/:slug", lifecycle, workspaceHandler.Delete)
	workspaces.Post("/:slug/restart", lifecycle, workspaceHandler.Restart)
	workspaces.Post("/:slug/start", lifecycle, workspaceHandler.Start)
	workspaces.Post("/:slug/apps", lifecycle, workspaceHandler.LinkApp)
	workspaces.Delete("/:slug/apps/:app", lifecycle, workspaceHandler.UnlinkApp)
	workspaces.Post("/:slug/sandboxes/pull-request", lifecycle, workspaceHandler.SandboxPullRequest)
	workspaces.Get("/:slug/health", workspaceHandler.Health)

	// Team routes
	teams := api.Group("/teams")
	teams.Post("/", lifecycle, teamHandler.Create)
	teams.Delete("/:slug", lifecycle, teamHandler.Delete)

	// Job status (reconciliation poller's authoritative read)
	api.Get("/jobs/:jobId", workspaceHandler.JobStatus)

	// Bridge token minting (must happen before navigating away)
	api.Post("/bridge/token", rateLimiter.BridgeLimit(cfg.RateLimit.BridgePerMin), bridgeHandler.Mint)

	// WebSocket routes
	app.Use("/ws", authMiddleware.Authenticate(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, redisClient, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, redisClient *redis.Client, hub *ws.Hub) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"provision": 10,
			},
		},
	)

	provisionWorker := worker.NewProvisionWorker(redisClient, hub, cfg.Server.BaseDomain, cfg.Provision.StepDelay)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeProvision, provisionWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
