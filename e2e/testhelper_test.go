package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/teamdock/portal/internal/auth"
	"github.com/teamdock/portal/internal/handler"
	"github.com/teamdock/portal/internal/middleware"
	"github.com/teamdock/portal/internal/service"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	tokens *auth.TokenService
}

// setupApp creates a Fiber app identical to main.go, against redis DB 15.
// Skips when redis is not running locally.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	tokens := auth.NewTokenService(testJWTSecret, "teamdock-test", time.Hour, time.Minute, redisClient)

	// Services
	workspaceService := service.NewWorkspaceService(redisClient, asynqClient)
	teamService := service.NewTeamService(redisClient, asynqClient)

	// Handlers
	workspaceHandler := handler.NewWorkspaceHandler(workspaceService, validate)
	teamHandler := handler.NewTeamHandler(teamService, validate)
	bridgeHandler := handler.NewBridgeHandler(tokens, teamService, validate)
	authHandler := handler.NewAuthHandler(nil, tokens)

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/auth/sso/exchange", authHandler.SSOExchange)
	app.Post("/auth/bridge/exchange", bridgeHandler.Exchange)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Very high rate limits so tests don't get blocked
	lifecycle := rateLimiter.LifecycleLimit(100000)

	workspaces := api.Group("/workspaces")
	workspaces.Post("/", lifecycle, workspaceHandler.Create)
	workspaces.Delete("/:slug", lifecycle, workspaceHandler.Delete)
	workspaces.Post("/:slug/restart", lifecycle, workspaceHandler.Restart)
	workspaces.Post("/:slug/start", lifecycle, workspaceHandler.Start)
	workspaces.Post("/:slug/apps", lifecycle, workspaceHandler.LinkApp)
	workspaces.Delete("/:slug/apps/:app", lifecycle, workspaceHandler.UnlinkApp)
	workspaces.Post("/:slug/sandboxes/pull-request", lifecycle, workspaceHandler.SandboxPullRequest)
	workspaces.Get("/:slug/health", workspaceHandler.Health)

	teams := api.Group("/teams")
	teams.Post("/", lifecycle, teamHandler.Create)
	teams.Delete("/:slug", lifecycle, teamHandler.Delete)

	api.Get("/jobs/:jobId", workspaceHandler.JobStatus)
	api.Post("/bridge/token", rateLimiter.BridgeLimit(100000), bridgeHandler.Mint)

	return &testApp{app: app, tokens: tokens}
}

// generateToken creates a session token for test requests.
func (ta *testApp) generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := ta.tokens.IssueSession(userID, "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request authenticated as userID.
func (ta *testApp) doAuthRequest(t *testing.T, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := ta.generateToken(t, userID)
	return doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
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
