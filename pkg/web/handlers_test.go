package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/dispatch"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/events"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/cadenzahq/cadenza/pkg/recovery"
	"github.com/cadenzahq/cadenza/pkg/registry"
	"github.com/cadenzahq/cadenza/pkg/web"
)

type fakeBus struct {
	mu        sync.Mutex
	published []eventbus.Event
	next      int
}

func (b *fakeBus) Publish(_ context.Context, _ string, event eventbus.Event) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, event)
	b.next++

	return fmt.Sprintf("msg-%d", b.next), nil
}

func (b *fakeBus) Handle(_ events.EventType, _ eventbus.EventHandler) error { return nil }
func (b *fakeBus) Subscribe(_ context.Context) error                       { return nil }
func (b *fakeBus) Close() error                                            { return nil }
func (b *fakeBus) GenerateID() string                                      { return "generated" }

type webFixture struct {
	app      *fiber.App
	store    *memory.Persistence
	bus      *fakeBus
	recovery *recovery.Manager
}

// setupTestApp builds a fiber app with the same route table the API
// binary registers, backed by in-memory persistence and a fake bus.
func setupTestApp(t *testing.T) *webFixture {
	t.Helper()

	logger := slog.Default()
	reg := registry.NewRegistry(logger)
	registry.RegisterBuiltins(reg)

	store := memory.NewPersistence()
	bus := &fakeBus{}

	dispatchManager := dispatch.NewManager(logger, reg, store, bus)
	recoveryManager := recovery.NewManager(logger, store, bus)

	handlers := web.NewAPIHandlers(
		store,
		reg,
		dispatchManager,
		recoveryManager,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()

	triggers := app.Group("/triggers")
	triggers.Get("/catalog", handlers.GetTriggerCatalog)
	triggers.Post("/validate", handlers.ValidateTriggerConfig)
	triggers.Post("/", handlers.CreateTrigger)
	triggers.Get("/:id", handlers.GetTrigger)
	triggers.Patch("/:id", handlers.UpdateTrigger)
	triggers.Delete("/:id", handlers.DeleteTrigger)
	triggers.Post("/:id/fire", handlers.TriggerManually)

	app.Get("/workflows/:id/triggers", handlers.GetWorkflowTriggers)

	executions := app.Group("/executions")
	executions.Get("/:id/checkpoints", handlers.GetExecutionCheckpoints)
	executions.Get("/:id/checkpoints/statistics", handlers.GetCheckpointStatistics)
	executions.Post("/:id/recover", handlers.RecoverExecution)
	executions.Get("/:id/recovery-logs", handlers.GetExecutionRecoveryLogs)

	strategies := app.Group("/recovery/strategies")
	strategies.Get("/", handlers.GetStrategies)
	strategies.Post("/", handlers.CreateStrategy)
	strategies.Get("/:id", handlers.GetStrategy)
	strategies.Patch("/:id", handlers.UpdateStrategy)
	strategies.Delete("/:id", handlers.DeleteStrategy)

	app.Get("/recovery/logs/:id", handlers.GetRecoveryLog)
	app.Get("/recovery/failure-analysis", handlers.GetFailureAnalysis)
	app.Get("/recovery/trends", handlers.GetRecoveryTrends)
	app.Post("/recovery/checkpoints/cleanup", handlers.CleanupCheckpoints)

	replay := app.Group("/replay-sessions")
	replay.Get("/", handlers.GetReplaySessions)
	replay.Post("/", handlers.CreateReplaySession)
	replay.Get("/:id", handlers.GetReplaySession)
	replay.Post("/:id/start", handlers.StartReplaySession)
	replay.Post("/:id/cancel", handlers.CancelReplaySession)
	replay.Get("/:id/comparison", handlers.GetReplayComparison)

	app.Get("/health", handlers.HealthCheck)

	return &webFixture{
		app:      app,
		store:    store,
		bus:      bus,
		recovery: recoveryManager,
	}
}

// request performs an in-process HTTP call. A string body is sent as-is
// so tests can exercise malformed JSON.
func (f *webFixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	switch payload := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(payload)
	default:
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func (f *webFixture) seedWorkflow(t *testing.T, id string) {
	t.Helper()

	err := f.store.WorkflowRepository().Save(context.Background(), &models.Workflow{
		ID:           id,
		Name:         "test workflow",
		Status:       models.WorkflowStatusActive,
		TenantSchema: "tenant_a",
	})
	require.NoError(t, err)
}

func (f *webFixture) seedTrigger(t *testing.T, id, workflowID, triggerType string, config map[string]any) {
	t.Helper()

	err := f.store.TriggerRepository().Save(context.Background(), &models.TriggerInstance{
		ID:          id,
		WorkflowID:  workflowID,
		TriggerType: triggerType,
		Name:        "seeded trigger",
		IsActive:    true,
		Config:      config,
	})
	require.NoError(t, err)
}

func (f *webFixture) seedExecution(t *testing.T, id string, status models.ExecutionStatus) {
	t.Helper()

	execution := &models.Execution{
		ID:          id,
		WorkflowID:  "wf-1",
		Status:      status,
		TriggerData: map[string]any{"record_id": "r1"},
		StartedAt:   time.Now().UTC().Add(-time.Hour),
	}
	if status == models.ExecutionStatusFailed {
		execution.ErrorMessage = "node timed out"
		execution.FailedNodeID = "node-3"
	}

	require.NoError(t, f.store.ExecutionRepository().Save(context.Background(), execution))
}

func TestCreateTrigger(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body map[string]any)
	}{
		{
			name: "creates trigger with defaults",
			requestBody: map[string]any{
				"workflow_id":  "wf-1",
				"trigger_type": "record_created",
				"name":         "new lead created",
				"config":       map[string]any{"pipeline_ids": []string{"p1"}},
			},
			expectedStatus: fiber.StatusCreated,
			validateResult: func(t *testing.T, body map[string]any) {
				assert.NotEmpty(t, body["id"])
				assert.Equal(t, "new lead created", body["name"])
				assert.Equal(t, true, body["is_active"])
			},
		},
		{
			name: "rejects short name",
			requestBody: map[string]any{
				"workflow_id":  "wf-1",
				"trigger_type": "record_created",
				"name":         "ab",
			},
			expectedStatus: fiber.StatusBadRequest,
			validateResult: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["detail"], "Name")
			},
		},
		{
			name: "rejects unknown workflow",
			requestBody: map[string]any{
				"workflow_id":  "wf-404",
				"trigger_type": "record_created",
				"name":         "orphan trigger",
			},
			expectedStatus: fiber.StatusNotFound,
		},
		{
			name: "rejects invalid configuration",
			requestBody: map[string]any{
				"workflow_id":  "wf-1",
				"trigger_type": "scheduled",
				"name":         "daily digest",
				"config":       map[string]any{},
			},
			expectedStatus: fiber.StatusUnprocessableEntity,
			validateResult: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["valid"])
			},
		},
		{
			name:           "rejects malformed json",
			requestBody:    "invalid-json",
			expectedStatus: fiber.StatusBadRequest,
			validateResult: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Invalid JSON format", body["detail"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestApp(t)
			f.seedWorkflow(t, "wf-1")

			resp := f.request(t, fiber.MethodPost, "/triggers/", tt.requestBody)

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.validateResult != nil {
				tt.validateResult(t, decodeJSON(t, resp))
			}
		})
	}
}

func TestGetTrigger(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedTrigger(t, "trg-1", "wf-1", "record_created", nil)

	resp := f.request(t, fiber.MethodGet, "/triggers/trg-1", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "trg-1", body["id"])
	assert.Equal(t, "record_created", body["trigger_type"])

	resp = f.request(t, fiber.MethodGet, "/triggers/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetWorkflowTriggers(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedTrigger(t, "trg-1", "wf-1", "record_created", nil)
	f.seedTrigger(t, "trg-2", "wf-1", "record_updated", nil)
	f.seedTrigger(t, "trg-3", "wf-2", "record_created", nil)

	resp := f.request(t, fiber.MethodGet, "/workflows/wf-1/triggers", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Len(t, body["triggers"], 2)
}

func TestUpdateTrigger(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedTrigger(t, "trg-1", "wf-1", "scheduled", map[string]any{"cron": "0 9 * * *"})

	resp := f.request(t, fiber.MethodPatch, "/triggers/trg-1", map[string]any{
		"name":                    "renamed trigger",
		"is_active":               false,
		"max_executions_per_hour": 10,
	})

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "renamed trigger", body["name"])
	assert.Equal(t, false, body["is_active"])
	assert.Equal(t, float64(10), body["max_executions_per_hour"])

	resp = f.request(t, fiber.MethodPatch, "/triggers/trg-1", map[string]any{
		"config": map[string]any{},
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp = f.request(t, fiber.MethodPatch, "/triggers/missing", map[string]any{
		"name": "still missing",
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteTrigger(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedTrigger(t, "trg-1", "wf-1", "record_created", nil)

	resp := f.request(t, fiber.MethodDelete, "/triggers/trg-1", nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = f.request(t, fiber.MethodGet, "/triggers/trg-1", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = f.request(t, fiber.MethodDelete, "/triggers/trg-1", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestTriggerManually(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedTrigger(t, "trg-manual", "wf-1", "manual", nil)
	f.seedTrigger(t, "trg-sched", "wf-1", "scheduled", map[string]any{})

	resp := f.request(t, fiber.MethodPost, "/triggers/trg-manual/fire", map[string]any{
		"user_id": "user-1",
		"data":    map[string]any{"note": "go"},
	})

	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "trg-manual", body["trigger_id"])

	resp = f.request(t, fiber.MethodPost, "/triggers/trg-manual/fire", map[string]any{
		"data": map[string]any{"note": "go"},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = f.request(t, fiber.MethodPost, "/triggers/missing/fire", map[string]any{
		"user_id": "user-1",
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// The scheduled trigger has no cron expression, so processing
	// rejects it rather than dispatching.
	resp = f.request(t, fiber.MethodPost, "/triggers/trg-sched/fire", map[string]any{
		"user_id": "user-1",
	})
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	body = decodeJSON(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "cron")
}

func TestGetTriggerCatalog(t *testing.T) {
	f := setupTestApp(t)

	resp := f.request(t, fiber.MethodGet, "/triggers/catalog", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Len(t, body["triggers"], 8)

	resp = f.request(t, fiber.MethodGet, "/triggers/catalog?category=record", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body = decodeJSON(t, resp)
	assert.Len(t, body["triggers"], 3)
}

func TestValidateTriggerConfig(t *testing.T) {
	tests := []struct {
		name          string
		requestBody   map[string]any
		expectedValid bool
		errorContains string
	}{
		{
			name: "valid scheduled config",
			requestBody: map[string]any{
				"trigger_type": "scheduled",
				"config":       map[string]any{"cron": "0 9 * * *"},
			},
			expectedValid: true,
		},
		{
			name: "missing cron expression",
			requestBody: map[string]any{
				"trigger_type": "scheduled",
				"config":       map[string]any{},
			},
			expectedValid: false,
			errorContains: "cron",
		},
		{
			name: "unknown trigger type",
			requestBody: map[string]any{
				"trigger_type": "telepathy",
				"config":       map[string]any{},
			},
			expectedValid: false,
			errorContains: "unknown trigger type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestApp(t)

			resp := f.request(t, fiber.MethodPost, "/triggers/validate", tt.requestBody)

			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			body := decodeJSON(t, resp)
			assert.Equal(t, tt.expectedValid, body["valid"])

			if tt.errorContains != "" {
				assert.Contains(t, fmt.Sprintf("%v", body["errors"]), tt.errorContains)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	f := setupTestApp(t)

	resp := f.request(t, fiber.MethodGet, "/health", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "healthy", body["status"])

	depths, ok := body["queue_depths"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, depths, 4)
}

func TestStrategyEndpoints(t *testing.T) {
	f := setupTestApp(t)

	resp := f.request(t, fiber.MethodPost, "/recovery/strategies/", map[string]any{
		"name":           "retry on timeout",
		"strategy_type":  "retry",
		"error_patterns": []string{"timeout"},
		"priority":       10,
	})

	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	created := decodeJSON(t, resp)
	strategyID, _ := created["id"].(string)
	require.NotEmpty(t, strategyID)
	assert.Equal(t, true, created["is_active"])

	resp = f.request(t, fiber.MethodPost, "/recovery/strategies/", map[string]any{
		"name":          "bad strategy",
		"strategy_type": "explode",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = f.request(t, fiber.MethodGet, "/recovery/strategies/", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSON(t, resp)["strategies"], 1)

	resp = f.request(t, fiber.MethodPatch, "/recovery/strategies/"+strategyID, map[string]any{
		"priority":  50,
		"is_active": false,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	updated := decodeJSON(t, resp)
	assert.Equal(t, float64(50), updated["priority"])
	assert.Equal(t, false, updated["is_active"])
	assert.Equal(t, "retry on timeout", updated["name"])

	resp = f.request(t, fiber.MethodDelete, "/recovery/strategies/"+strategyID, nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = f.request(t, fiber.MethodGet, "/recovery/strategies/"+strategyID, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRecoverExecution(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedExecution(t, "exec-1", models.ExecutionStatusFailed)

	_, err := f.recovery.CreateCheckpoint(context.Background(), recovery.CheckpointInput{
		WorkflowID:    "wf-1",
		ExecutionID:   "exec-1",
		IsRecoverable: true,
		ContextData:   map[string]any{"tenant_schema": "tenant_a"},
	})
	require.NoError(t, err)

	resp := f.request(t, fiber.MethodPost, "/executions/exec-1/recover", map[string]any{})

	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	log := decodeJSON(t, resp)
	logID, _ := log["id"].(string)
	require.NotEmpty(t, logID)
	assert.Equal(t, "retry", log["recovery_type"])
	assert.Equal(t, string(models.RecoveryReasonManualRequest), log["trigger_reason"])
	assert.Equal(t, true, log["was_successful"])
	assert.NotEmpty(t, log["new_execution_id"])

	resp = f.request(t, fiber.MethodGet, "/recovery/logs/"+logID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, logID, decodeJSON(t, resp)["id"])

	resp = f.request(t, fiber.MethodGet, "/executions/exec-1/recovery-logs", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSON(t, resp)["recovery_logs"], 1)

	resp = f.request(t, fiber.MethodPost, "/executions/missing/recover", map[string]any{})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestExecutionCheckpointEndpoints(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedExecution(t, "exec-1", models.ExecutionStatusRunning)

	for i := 0; i < 2; i++ {
		_, err := f.recovery.CreateCheckpoint(context.Background(), recovery.CheckpointInput{
			WorkflowID:    "wf-1",
			ExecutionID:   "exec-1",
			IsRecoverable: true,
		})
		require.NoError(t, err)
	}

	resp := f.request(t, fiber.MethodGet, "/executions/exec-1/checkpoints", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSON(t, resp)["checkpoints"], 2)

	resp = f.request(t, fiber.MethodGet, "/executions/exec-1/checkpoints/statistics", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	stats := decodeJSON(t, resp)
	assert.Equal(t, float64(2), stats["total_count"])
	assert.Equal(t, float64(2), stats["recoverable_count"])
}

func TestCleanupCheckpoints(t *testing.T) {
	f := setupTestApp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &models.Checkpoint{
		ID:          "cp-expired",
		ExecutionID: "exec-1",
		SizeBytes:   128,
		CreatedAt:   now.Add(-48 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	}
	require.NoError(t, f.store.CheckpointRepository().Save(ctx, expired))

	fresh := &models.Checkpoint{
		ID:          "cp-fresh",
		ExecutionID: "exec-1",
		SizeBytes:   64,
		CreatedAt:   now.Add(-time.Minute),
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	require.NoError(t, f.store.CheckpointRepository().Save(ctx, fresh))

	resp := f.request(t, fiber.MethodPost, "/recovery/checkpoints/cleanup", map[string]any{
		"dry_run": true,
	})

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	report := decodeJSON(t, resp)
	assert.Equal(t, float64(1), report["deleted"])
	assert.Equal(t, true, report["dry_run"])

	resp = f.request(t, fiber.MethodPost, "/recovery/checkpoints/cleanup", map[string]any{})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = f.request(t, fiber.MethodGet, "/executions/exec-1/checkpoints", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSON(t, resp)["checkpoints"], 1)
}

func TestFailureAnalysisEndpoint(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedExecution(t, "exec-1", models.ExecutionStatusFailed)

	resp := f.request(t, fiber.MethodGet, "/recovery/failure-analysis?days=7", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	analysis := decodeJSON(t, resp)
	assert.Equal(t, float64(1), analysis["total_failures"])
	assert.Equal(t, float64(7), analysis["window_days"])

	resp = f.request(t, fiber.MethodGet, "/recovery/failure-analysis?days=soon", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRecoveryTrendsEndpoint(t *testing.T) {
	f := setupTestApp(t)

	resp := f.request(t, fiber.MethodGet, "/recovery/trends", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	_, present := body["trends"]
	assert.True(t, present)
}

func TestReplaySessionEndpoints(t *testing.T) {
	f := setupTestApp(t)
	f.seedWorkflow(t, "wf-1")
	f.seedExecution(t, "exec-1", models.ExecutionStatusCompleted)

	resp := f.request(t, fiber.MethodPost, "/replay-sessions/", map[string]any{
		"original_execution_id": "exec-1",
		"replay_type":           "debug",
		"debug_mode":            true,
		"modified_inputs":       map[string]any{"amount": 500},
	})

	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	created := decodeJSON(t, resp)
	sessionID, _ := created["id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "debug", created["replay_type"])

	resp = f.request(t, fiber.MethodPost, "/replay-sessions/", map[string]any{
		"replay_type": "debug",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = f.request(t, fiber.MethodPost, "/replay-sessions/", map[string]any{
		"original_execution_id": "missing",
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = f.request(t, fiber.MethodGet, "/replay-sessions/", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSON(t, resp)["replay_sessions"], 1)

	resp = f.request(t, fiber.MethodPost, "/replay-sessions/"+sessionID+"/start", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	started := decodeJSON(t, resp)
	assert.Equal(t, string(models.ReplayStatusRunning), started["status"])
	assert.NotEmpty(t, started["replay_execution_id"])

	resp = f.request(t, fiber.MethodGet, "/replay-sessions/"+sessionID+"/comparison", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	comparison := decodeJSON(t, resp)
	assert.Equal(t, sessionID, comparison["session_id"])
	assert.Equal(t, "exec-1", comparison["original_execution_id"])

	resp = f.request(t, fiber.MethodPost, "/replay-sessions/"+sessionID+"/cancel", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.ReplayStatusCancelled), decodeJSON(t, resp)["status"])

	resp = f.request(t, fiber.MethodPost, "/replay-sessions/"+sessionID+"/cancel", nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
