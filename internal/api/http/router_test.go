package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticket-agent/internal/api/http/handlers"
	"github.com/spec-kit/ticket-agent/internal/auth"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/events"
	"github.com/spec-kit/ticket-agent/internal/gateway"
	"github.com/spec-kit/ticket-agent/internal/observability"
	"github.com/spec-kit/ticket-agent/internal/pipeline"
	"github.com/spec-kit/ticket-agent/internal/repository"
	"github.com/spec-kit/ticket-agent/internal/service"
	"github.com/spec-kit/ticket-agent/internal/stages"
)

func newTestApp(t *testing.T, checkpoints pipeline.CheckpointStore) *fiber.App {
	t.Helper()
	metrics := observability.NewMetrics()

	responses := gateway.MockResponses{
		DecisionScore: 82,
		Clarification: "Could you provide your Order ID?",
		Answer:        "Order ID: 12345",
		KBResults:     []string{"FAQ: Orders may be delayed 5-7 days."},
	}
	gw, err := gateway.New(gateway.Options{Recorder: metrics},
		gateway.NewMockProvider(gateway.ProviderGeneral, responses),
		gateway.NewMockProvider(gateway.ProviderSpecialist, responses))
	require.NoError(t, err)
	graph, err := pipeline.DefaultGraph(stages.New(stages.Dependencies{Gateway: gw, Decisions: metrics}))
	require.NoError(t, err)

	pipelineService, err := service.NewPipelineService(service.PipelineDependencies{
		Graph:       graph,
		Checkpoints: checkpoints,
		RunRepo:     repository.NewMemoryRunRepository(),
		HistoryRepo: repository.NewMemoryStageHistoryRepository(),
		Dispatcher:  events.NewInMemoryDispatcher(nil),
		Recorder:    metrics,
	})
	require.NoError(t, err)

	hash := func(secret string) string {
		h, err := auth.HashSecret(secret, bcrypt.MinCost)
		require.NoError(t, err)
		return h
	}
	authService, err := service.NewAuthService(config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 5,
		Clients: []config.ClientCredential{
			{ID: "ops", Role: "operator", SecretHash: hash("ops-secret")},
			{ID: "dash", Role: "viewer", SecretHash: hash("dash-secret")},
		},
	})
	require.NoError(t, err)

	app := fiber.New()
	RegisterMiddlewares(app, nil, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-agent", "test", nil, nil),
		Auth:           handlers.NewAuthHandler(authService),
		Runs:           handlers.NewRunsHandler(pipelineService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
		Metrics:        metrics,
	})
	return app
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func login(t *testing.T, app *fiber.App, clientID, secret string) string {
	t.Helper()
	status, env := call(t, app, fiber.MethodPost, "/auth/token", "", map[string]string{
		"client_id":     clientID,
		"client_secret": secret,
	})
	require.Equal(t, fiber.StatusOK, status)
	var token struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &token))
	require.NotEmpty(t, token.Token)
	return token.Token
}

type runBody struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Trace       []string       `json:"trace"`
	NextStage   *string        `json:"next_stage"`
	FailedStage *string        `json:"failed_stage"`
	State       map[string]any `json:"state"`
}

func decodeRun(t *testing.T, env envelope) runBody {
	t.Helper()
	var run runBody
	require.NoError(t, json.Unmarshal(env.Data, &run))
	return run
}

func aliceRequest() map[string]string {
	return map[string]string{
		"ticket_id":     "T12345",
		"customer_name": "Alice",
		"email":         "alice@example.com",
		"query":         "My order hasn't arrived yet",
		"priority":      "high",
	}
}

func TestRoutes_StartAndInspectRun(t *testing.T) {
	app := newTestApp(t, nil)
	ops := login(t, app, "ops", "ops-secret")
	dash := login(t, app, "dash", "dash-secret")

	status, env := call(t, app, fiber.MethodPost, "/v1/runs", ops, aliceRequest())
	require.Equal(t, fiber.StatusCreated, status)
	run := decodeRun(t, env)
	assert.Equal(t, "COMPLETED", run.Status)
	assert.Len(t, run.Trace, 11)
	assert.Equal(t, "Closed", run.State["final_status"])
	assert.Equal(t, map[string]any{"escalated": true, "score": float64(82)}, run.State["decision"])

	status, env = call(t, app, fiber.MethodGet, "/v1/runs/"+run.ID, dash, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, run.ID, decodeRun(t, env).ID)

	status, env = call(t, app, fiber.MethodGet, "/v1/runs/"+run.ID+"/history", dash, nil)
	require.Equal(t, fiber.StatusOK, status)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 11)
	assert.Equal(t, "INTAKE", history[0]["stage"])
	assert.Equal(t, "COMPLETE", history[10]["stage"])

	status, _ = call(t, app, fiber.MethodPost, "/v1/runs", ops, aliceRequest())
	require.Equal(t, fiber.StatusCreated, status)
	status, env = call(t, app, fiber.MethodGet, "/v1/tickets/T12345/runs", dash, nil)
	require.Equal(t, fiber.StatusOK, status)
	var runs []runBody
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 2)
}

func TestRoutes_ParkAndReply(t *testing.T) {
	app := newTestApp(t, pipeline.NewMemoryCheckpointStore())
	ops := login(t, app, "ops", "ops-secret")

	status, env := call(t, app, fiber.MethodPost, "/v1/runs", ops, aliceRequest())
	require.Equal(t, fiber.StatusCreated, status)
	run := decodeRun(t, env)
	assert.Equal(t, "PARKED", run.Status)
	require.NotNil(t, run.NextStage)
	assert.Equal(t, "WAIT", *run.NextStage)

	status, env = call(t, app, fiber.MethodPost, "/v1/runs/"+run.ID+"/reply", ops, map[string]string{"reply": ""})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = call(t, app, fiber.MethodPost, "/v1/runs/"+run.ID+"/reply", ops, map[string]string{"reply": "Order 98765"})
	require.Equal(t, fiber.StatusOK, status)
	resumed := decodeRun(t, env)
	assert.Equal(t, "COMPLETED", resumed.Status)
	assert.Equal(t, "Order 98765", resumed.State["user_answer"])

	status, env = call(t, app, fiber.MethodPost, "/v1/runs/"+run.ID+"/reply", ops, map[string]string{"reply": "again"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", env.Error.Code)
}

func TestRoutes_ReplyAfterCheckpointExpired(t *testing.T) {
	checkpoints := pipeline.NewMemoryCheckpointStore()
	app := newTestApp(t, checkpoints)
	ops := login(t, app, "ops", "ops-secret")

	status, env := call(t, app, fiber.MethodPost, "/v1/runs", ops, aliceRequest())
	require.Equal(t, fiber.StatusCreated, status)
	run := decodeRun(t, env)
	_, err := checkpoints.Take(context.Background(), run.ID)
	require.NoError(t, err)

	status, env = call(t, app, fiber.MethodPost, "/v1/runs/"+run.ID+"/reply", ops, map[string]string{"reply": "Order 98765"})
	assert.Equal(t, fiber.StatusGone, status)
	assert.Equal(t, "CHECKPOINT_EXPIRED", env.Error.Code)

	status, env = call(t, app, fiber.MethodGet, "/v1/runs/"+run.ID, ops, nil)
	require.Equal(t, fiber.StatusOK, status)
	stored := decodeRun(t, env)
	assert.Equal(t, "FAILED", stored.Status)
	require.NotNil(t, stored.FailedStage)
	assert.Equal(t, "WAIT", *stored.FailedStage)
}

func TestRoutes_Errors(t *testing.T) {
	app := newTestApp(t, nil)
	ops := login(t, app, "ops", "ops-secret")
	dash := login(t, app, "dash", "dash-secret")

	status, env := call(t, app, fiber.MethodPost, "/auth/token", "", map[string]string{"client_id": "ops", "client_secret": "nope"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, _ = call(t, app, fiber.MethodPost, "/v1/runs", "", aliceRequest())
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, env = call(t, app, fiber.MethodPost, "/v1/runs", dash, aliceRequest())
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	req := aliceRequest()
	delete(req, "email")
	status, env = call(t, app, fiber.MethodPost, "/v1/runs", ops, req)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "email", env.Error.Details["field"])

	status, env = call(t, app, fiber.MethodGet, "/v1/runs/missing", dash, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, env = call(t, app, fiber.MethodPost, "/v1/runs/missing/reply", ops, map[string]string{"reply": "hi"})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, env = call(t, app, fiber.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t, nil)

	status, _ := call(t, app, fiber.MethodGet, "/health/live", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health/ready", nil), -1)
	require.NoError(t, err)
	var ready map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", ready["status"])
	assert.Equal(t, map[string]any{"postgres": "disabled", "redis": "disabled"}, ready["dependencies"])

	ops := login(t, app, "ops", "ops-secret")
	status, _ = call(t, app, fiber.MethodPost, "/v1/runs", ops, aliceRequest())
	require.Equal(t, fiber.StatusCreated, status)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pipeline_runs_total")
}
