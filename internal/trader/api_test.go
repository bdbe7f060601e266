package trader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/models"
)

// MockRunner is a mock implementation of CycleRunner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunCycle(ctx context.Context, req CycleRequest) (*models.Chat, error) {
	args := m.Called(ctx, req)
	chat, _ := args.Get(0).(*models.Chat)
	return chat, args.Error(1)
}

func (m *MockRunner) CaptureMetrics(ctx context.Context) (*models.Metric, error) {
	args := m.Called(ctx)
	metric, _ := args.Get(0).(*models.Metric)
	return metric, args.Error(1)
}

func newTestServer(runner CycleRunner, secret string) http.Handler {
	cfg := testConfig(true)
	cfg.Server = config.Server{Port: 0, CronSecret: secret}
	return NewAPIServer(runner, cfg, zap.NewNop()).Handler()
}

func serve(h http.Handler, method, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIServer_RejectsBadCredentials(t *testing.T) {
	testCases := map[string]struct {
		secret string
		auth   string
	}{
		"Missing":     {secret: "s3cret", auth: ""},
		"WrongScheme": {secret: "s3cret", auth: "Basic s3cret"},
		"WrongSecret": {secret: "s3cret", auth: "Bearer nope"},
		"EmptySecret": {secret: "", auth: "Bearer "},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			runner := new(MockRunner)
			h := newTestServer(runner, tc.secret)

			for _, path := range []string{"/api/cron/cycle", "/api/cron/metrics"} {
				rec := serve(h, http.MethodGet, path, tc.auth)
				assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
			}
			runner.AssertNotCalled(t, "RunCycle", mock.Anything, mock.Anything)
			runner.AssertNotCalled(t, "CaptureMetrics", mock.Anything)
		})
	}
}

func TestAPIServer_RunsCycle(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunCycle", mock.Anything, mock.MatchedBy(func(req CycleRequest) bool {
		return req.BackendOverride == "openai" && req.Symbol == "ETH" && req.InitialCapital.Equal(decimal.NewFromInt(100))
	})).Return(&models.Chat{ID: "chat-1", Model: "gpt-4o"}, nil)
	h := newTestServer(runner, "s3cret")

	rec := serve(h, http.MethodPost, "/api/cron/cycle?model=openai&symbol=ETH", "Bearer s3cret")

	require.Equal(t, http.StatusOK, rec.Code)
	var body models.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "chat-1", body.ID)
	runner.AssertExpectations(t)
}

func TestAPIServer_DefaultsToConfiguredSymbol(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunCycle", mock.Anything, mock.MatchedBy(func(req CycleRequest) bool {
		return req.Symbol == "BTC" && req.BackendOverride == ""
	})).Return(&models.Chat{ID: "chat-2"}, nil)
	h := newTestServer(runner, "s3cret")

	rec := serve(h, http.MethodGet, "/api/cron/cycle", "Bearer s3cret")

	assert.Equal(t, http.StatusOK, rec.Code)
	runner.AssertExpectations(t)
}

func TestAPIServer_CycleFailure(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunCycle", mock.Anything, mock.Anything).Return(nil, errors.New("cycle aborted, snapshot unavailable"))
	h := newTestServer(runner, "s3cret")

	rec := serve(h, http.MethodGet, "/api/cron/cycle", "Bearer s3cret")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "snapshot unavailable")
}

func TestAPIServer_CapturesMetrics(t *testing.T) {
	runner := new(MockRunner)
	runner.On("CaptureMetrics", mock.Anything).Return(&models.Metric{ID: 9, PositionCount: 2}, nil)
	h := newTestServer(runner, "s3cret")

	rec := serve(h, http.MethodGet, "/api/cron/metrics", "Bearer s3cret")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"position_count":2`)
}

func TestAPIServer_MethodNotAllowed(t *testing.T) {
	runner := new(MockRunner)
	h := newTestServer(runner, "s3cret")

	rec := serve(h, http.MethodDelete, "/api/cron/cycle", "Bearer s3cret")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	runner.AssertNotCalled(t, "RunCycle", mock.Anything, mock.Anything)
}

func TestAPIServer_OpenEndpoints(t *testing.T) {
	h := newTestServer(new(MockRunner), "")

	rec := serve(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = serve(h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "BTC", status["symbol"])
	assert.Equal(t, true, status["dry_run"])
}
