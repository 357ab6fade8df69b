package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
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

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/client"
	"github.com/mealsmith/api/internal/config"
	"github.com/mealsmith/api/internal/handler"
	"github.com/mealsmith/api/internal/middleware"
	"github.com/mealsmith/api/internal/pipeline"
	"github.com/mealsmith/api/internal/progress"
	"github.com/mealsmith/api/internal/store"
	"github.com/mealsmith/api/internal/worker"
	ws "github.com/mealsmith/api/internal/websocket"
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

	// Initialize external clients
	llmClient := client.NewLLMClient(&cfg.LLM)
	imageClient := client.NewImageClient(&cfg.Image)

	// Initialize R2 client (optional - continues if not configured)
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		var err error
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		}
	} else {
		log.Println("Info: R2 storage not configured, image URLs stay on the provider")
	}

	// Initialize recipe store
	recipeStore, err := store.NewRecipeStore(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open recipe store: %v", err)
	}
	defer recipeStore.Close()

	// Initialize progress tracking
	retention := cfg.Pipeline.Retention()
	monitor := progress.NewMonitor(progress.NewRedisStore(redisClient, retention), retention)

	// Initialize pipeline agents
	retryCfg := agent.RetryConfig{
		MaxRetries:        cfg.Pipeline.MaxRetries,
		BackoffBase:       time.Duration(cfg.Pipeline.BackoffBaseMs) * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        time.Duration(cfg.Pipeline.BackoffMaxMs) * time.Millisecond,
	}

	planner := pipeline.NewPlanner(agent.NewRunner("planner", retryCfg))
	genRunner := agent.NewRunner("generator", retryCfg)
	recipeValidator := pipeline.NewValidator(agent.NewRunner("validator", retryCfg), pipeline.Tolerances{
		CaloriePassPct: cfg.Pipeline.CaloriePassPct,
		CalorieFixPct:  cfg.Pipeline.CalorieFixPct,
		MacroPassGrams: cfg.Pipeline.MacroPassGrams,
		MacroFixGrams:  cfg.Pipeline.MacroFixGrams,
	})
	persister := pipeline.NewPersister(agent.NewRunner("persister", retryCfg), recipeStore,
		cfg.Pipeline.PersistBatchSize, cfg.Pipeline.Transactional)
	imageGen := pipeline.NewImageGenerator(agent.NewRunner("imager", retryCfg), imageClient,
		time.Duration(cfg.Image.Timeout)*time.Second, cfg.Pipeline.ImageSimilarity, cfg.Pipeline.ImageRegenLimit)

	var storageClient client.StorageClient
	if r2Client != nil {
		storageClient = r2Client
	}
	uploader := pipeline.NewUploader(agent.NewRunner("uploader", retryCfg), storageClient,
		cfg.Pipeline.UploadConcurrency, time.Duration(cfg.Pipeline.UploadTimeoutSec)*time.Second)

	coordinator := pipeline.NewCoordinator(pipeline.CoordinatorParams{
		Monitor:          monitor,
		Planner:          planner,
		Validator:        recipeValidator,
		Persister:        persister,
		ImageGen:         imageGen,
		Uploader:         uploader,
		Recipes:          llmClient,
		GenRunner:        genRunner,
		Linker:           recipeStore,
		Enqueuer:         asynqClient,
		Notifier:         hub,
		DefaultChunkSize: cfg.Pipeline.ChunkSize,
	})
	if err := coordinator.Initialize(); err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer coordinator.Shutdown()

	// Initialize handlers and middleware
	batchHandler := handler.NewBatchHandler(coordinator, validate)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":   llmClient.IsConfigured(),
				"image": imageClient.IsConfigured(),
				"r2":    r2Client != nil,
				"redis": redisClient.Ping(c.Context()).Err() == nil,
			},
		})
	})

	// API routes
	api := app.Group("/api")

	batches := api.Group("/batches")
	batches.Post("/", rateLimiter.BatchLimit(cfg.RateLimit.BatchesPerHour), batchHandler.Start)
	batches.Get("/metrics", batchHandler.Metrics)
	batches.Get("/:batchId", batchHandler.Status)
	batches.Post("/:batchId/cancel", batchHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/batches/:batchId", websocket.New(func(c *websocket.Conn) {
		batchID := c.Params("batchId")
		hub.HandleConnection(c, batchID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, coordinator)

	// Periodically purge expired progress records
	go runCleanup(ctx, monitor, time.Duration(cfg.Pipeline.CleanupIntervalMin)*time.Minute)

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

func startWorkerServer(cfg *config.Config, coordinator *pipeline.Coordinator) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"batches": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	batchWorker := worker.NewBatchWorker(coordinator)

	mux := asynq.NewServeMux()
	mux.HandleFunc(pipeline.TaskTypeGenerateBatch, batchWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func runCleanup(ctx context.Context, monitor *progress.Monitor, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		purged, err := monitor.Cleanup(ctx)
		if err != nil {
			log.Printf("Progress cleanup error: %v", err)
			continue
		}
		if purged > 0 {
			log.Printf("Purged %d expired batch records", purged)
		}
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
