package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
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
	ws "github.com/mealsmith/api/internal/websocket"
)

// testApp holds all components needed for testing
type testApp struct {
	app         *fiber.App
	coordinator *pipeline.Coordinator
}

// setupApp creates a Fiber app identical to main.go but with unconfigured
// external clients, so generation and imaging run on mock fallbacks. Redis
// must be running on localhost; DB 15 keeps test keys out of development data.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// Unconfigured clients trigger mock fallbacks end to end
	llmClient := client.NewLLMClient(&config.LLMConfig{})
	imageClient := client.NewImageClient(&config.ImageConfig{})

	recipeStore, err := store.NewRecipeStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open recipe store: %v", err)
	}
	t.Cleanup(func() { recipeStore.Close() })

	monitor := progress.NewMonitor(progress.NewRedisStore(redisClient, time.Hour), time.Hour)

	retryCfg := agent.DefaultRetryConfig()
	coordinator := pipeline.NewCoordinator(pipeline.CoordinatorParams{
		Monitor:          monitor,
		Planner:          pipeline.NewPlanner(agent.NewRunner("planner", retryCfg)),
		Validator:        pipeline.NewValidator(agent.NewRunner("validator", retryCfg), pipeline.DefaultTolerances()),
		Persister:        pipeline.NewPersister(agent.NewRunner("persister", retryCfg), recipeStore, 10, true),
		ImageGen:         pipeline.NewImageGenerator(agent.NewRunner("imager", retryCfg), imageClient, time.Second, 0.95, 3),
		Uploader:         pipeline.NewUploader(agent.NewRunner("uploader", retryCfg), nil, 5, time.Second),
		Recipes:          llmClient,
		GenRunner:        agent.NewRunner("generator", retryCfg),
		Linker:           recipeStore,
		Enqueuer:         asynqClient,
		Notifier:         hub,
		DefaultChunkSize: 5,
	})
	if err := coordinator.Initialize(); err != nil {
		t.Fatalf("failed to initialize pipeline: %v", err)
	}
	t.Cleanup(coordinator.Shutdown)

	batchHandler := handler.NewBatchHandler(coordinator, validate)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":   llmClient.IsConfigured(),
				"image": imageClient.IsConfigured(),
				"r2":    false,
				"redis": redisClient.Ping(c.Context()).Err() == nil,
			},
		})
	})

	api := app.Group("/api")

	// Very high rate limit so tests never get blocked
	batches := api.Group("/batches")
	batches.Post("/", rateLimiter.BatchLimit(10000), batchHandler.Start)
	batches.Get("/metrics", batchHandler.Metrics)
	batches.Get("/:batchId", batchHandler.Status)
	batches.Post("/:batchId/cancel", batchHandler.Cancel)

	return &testApp{app: app, coordinator: coordinator}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
