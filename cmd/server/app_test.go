package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bank-api/internal/config"
	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/platform/memory"
	"github.com/phrazzld/bank-api/internal/task"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "debug"},
		Task: config.TaskConfig{
			WorkerCount:  2,
			MaxRetries:   3,
			RetryDelay:   10 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
			Broker:       "memory",
		},
	}
}

// newTestApplication builds an application on in-memory stores.
func newTestApplication(t *testing.T) (*application, *memory.AccountStore) {
	t.Helper()

	accounts := memory.NewAccountStore()
	app := &application{
		config:              testConfig(),
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		accountStore:        accounts,
		riskAssessmentStore: memory.NewRiskAssessmentStore(),
		taskStore:           task.NewMemoryTaskStore(),
	}
	require.NoError(t, app.init(context.Background()))
	t.Cleanup(app.cleanup)

	return app, accounts
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSetupQueue_Memory(t *testing.T) {
	app, _ := newTestApplication(t)

	_, ok := app.queue.(*task.MemoryQueue)
	assert.True(t, ok, "memory broker should build a MemoryQueue")
	assert.Nil(t, app.redis)
}

func TestSetupQueue_RedisUnreachable(t *testing.T) {
	app := &application{
		config: testConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	app.config.Task.Broker = "redis"
	app.config.Task.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := app.setupQueue(ctx)
	assert.Error(t, err)
	assert.Nil(t, app.redis)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApplication(t)

	rec := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestTransferThroughRouter(t *testing.T) {
	app, accounts := newTestApplication(t)
	accounts.Put(domain.Account{ID: 10, CustomerID: 1, Balance: decimal.RequireFromString("500")})
	accounts.Put(domain.Account{ID: 20, CustomerID: 2, Balance: decimal.RequireFromString("5")})
	router := app.setupRouter()

	rec := postJSON(t, router, "/api/transfers",
		`{"source_account_id":10,"target_account_id":20,"amount":"120.25"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	var accepted struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := app.taskRunner.Wait(ctx, uuid.MustParse(accepted.TaskID))
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, result.Status)

	source, err := accounts.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.True(t, source.Balance.Equal(decimal.RequireFromString("379.75")))

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+accepted.TaskID, nil))
	assert.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), `"status":"succeeded"`)
}

func TestRiskAssessmentThroughRouter(t *testing.T) {
	app, _ := newTestApplication(t)
	router := app.setupRouter()

	rec := postJSON(t, router, "/api/risk-assessments", `{"customer_id":3,"risk_score":72}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := app.taskRunner.Wait(ctx, uuid.MustParse(accepted.TaskID))
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, result.Status)
}

func TestUnknownTaskThroughRouter(t *testing.T) {
	app, _ := newTestApplication(t)

	rec := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRootCommand_Arguments(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	cmd.SetArgs([]string{"migrate", "sideways"})
	assert.Error(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", t.TempDir() + "/missing.yaml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
