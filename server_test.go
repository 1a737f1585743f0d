package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cargo_backend/internal/testdb"
	"github.com/mmdatafocus/cargo_backend/marketplace"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	utils.RegisterValidators()
	t.Setenv("WEBHOOK_SECRET", "topsecret")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	testdb.Open(t)
	logger, _ := test.NewNullLogger()
	return newRouter(logger, marketplace.NewSynchronizer(nil, logger), nil)
}

func TestRouterAnswers503UntilReady(t *testing.T) {
	r := testRouter(t)
	ready.Store(false)
	t.Cleanup(func() { ready.Store(false) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/sync/close", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouterGatesWebhooks(t *testing.T) {
	r := testRouter(t)
	ready.Store(true)
	t.Cleanup(func() { ready.Store(false) })

	body := `{"request_id":"OMG-7-REQ-01","status":"CLOSED","closed_at":"2024-05-02T10:00:00Z"}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/sync/close", strings.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sync/close", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Broadcaster-Token", "topsecret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	// unknown request is an anomaly, not a failure
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"success":true`)
	require.NotEmpty(t, w.Header().Get("X-Correlation-Id"))
}

func TestRouterRequiresJWTForClientAndOps(t *testing.T) {
	r := testRouter(t)
	ready.Store(true)
	t.Cleanup(func() { ready.Store(false) })

	for _, path := range []string{"/api/requests", "/internal/ops/anomalies"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestSplitAndTrim(t *testing.T) {
	require.Equal(t, []string{"https://a.example", "https://b.example"}, splitAndTrim(" https://a.example, ,https://b.example "))
	require.Nil(t, splitAndTrim("  "))
}
