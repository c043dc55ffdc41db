package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailmaestro/internal/config"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/orchestrator"
	apperrors "mailmaestro/pkg/errors"
	"mailmaestro/pkg/health"
)

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context) (orchestrator.Summary, error) {
	r.calls.Add(1)
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return orchestrator.Summary{}, nil
}

func newTestServer(runner Runner) *Server {
	return New(runner, health.NewCheckerRegistry(), config.Config{}, logger.NopLogger())
}

func TestRunReturnsAccepted(t *testing.T) {
	runner := newBlockingRunner()
	defer close(runner.release)
	srv := newTestServer(runner)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])

	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConcurrentRunRejected(t *testing.T) {
	runner := newBlockingRunner()
	srv := newTestServer(runner)

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/run", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusConflict, second.Code)
	var conflict apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &conflict))
	assert.Equal(t, "CONFLICT", conflict.Code)

	close(runner.release)
	assert.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))
		return w.Code == http.StatusAccepted
	}, time.Second, 10*time.Millisecond)
}

func TestRunRejectsGet(t *testing.T) {
	srv := newTestServer(newBlockingRunner())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/run", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

type failingChecker struct{}

func (failingChecker) Name() string                { return "postgres" }
func (failingChecker) Check(context.Context) error { return context.DeadlineExceeded }

func TestHealthReflectsCheckers(t *testing.T) {
	registry := health.NewCheckerRegistry()
	srv := New(newBlockingRunner(), registry, config.Config{}, logger.NopLogger())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	registry.Register(failingChecker{})
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	srv := newTestServer(newBlockingRunner())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
