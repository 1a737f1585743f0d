package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func gatedRouter(secret string) *gin.Engine {
	r := gin.New()
	r.POST("/sync", WebhookAuth(func() string { return secret }), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return r
}

func TestWebhookAuthAcceptsEveryHeaderForm(t *testing.T) {
	r := gatedRouter("topsecret")

	for name, header := range map[string][2]string{
		"bearer":            {"Authorization", "Bearer topsecret"},
		"bearer lower case": {"Authorization", "bearer topsecret"},
		"webhook secret":    {HeaderWebhookSecret, "topsecret"},
		"broadcaster token": {HeaderBroadcasterToken, "topsecret"},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sync", nil)
			req.Header.Set(header[0], header[1])
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestWebhookAuthOneMatchingHeaderIsEnough(t *testing.T) {
	r := gatedRouter("topsecret")
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer stale")
	req.Header.Set(HeaderBroadcasterToken, "topsecret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookAuthRejects(t *testing.T) {
	cases := map[string]struct {
		secret string
		header string
		value  string
	}{
		"no header":         {secret: "topsecret"},
		"wrong secret":      {secret: "topsecret", header: HeaderWebhookSecret, value: "nope"},
		"prefix only":       {secret: "topsecret", header: HeaderWebhookSecret, value: "top"},
		"basic auth":        {secret: "topsecret", header: "Authorization", value: "Basic topsecret"},
		"unset secret":      {secret: "", header: HeaderWebhookSecret, value: ""},
		"unset with bearer": {secret: "", header: "Authorization", value: "Bearer x"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := gatedRouter(tc.secret)
			req := httptest.NewRequest(http.MethodPost, "/sync", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
			require.JSONEq(t, `{"success":false,"error":"unauthorized"}`, w.Body.String())
		})
	}
}

func authedRouter() *gin.Engine {
	r := gin.New()
	api := r.Group("/api", AuthMiddleware())
	api.GET("/me", func(c *gin.Context) {
		ctx := c.Request.Context()
		scope, _ := utils.GetSubmitterScopeFromContext(ctx)
		email, _ := utils.GetSubmitterEmailFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{"scope": scope, "email": email})
	})
	api.GET("/ops", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAuthMiddlewareSetsScope(t *testing.T) {
	token, err := utils.JwtGenerate(7, "user", "OMG-7", "ops@omg7.example", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authedRouter().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"scope":"OMG-7","email":"ops@omg7.example"}`, w.Body.String())
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	expired, err := utils.JwtGenerate(7, "user", "OMG-7", "", -time.Minute)
	require.NoError(t, err)

	for name, value := range map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-jwt",
		"expired": "Bearer " + expired,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if value != "" {
				req.Header.Set("Authorization", value)
			}
			w := httptest.NewRecorder()
			authedRouter().ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	user, err := utils.JwtGenerate(7, "user", "OMG-7", "", time.Hour)
	require.NoError(t, err)
	admin, err := utils.JwtGenerate(1, utils.RoleAdmin, "", "", time.Hour)
	require.NoError(t, err)

	for token, want := range map[string]int{user: http.StatusForbidden, admin: http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/api/ops", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		authedRouter().ServeHTTP(w, req)
		require.Equal(t, want, w.Code)
	}
}

func TestCorrelationPropagatesHeader(t *testing.T) {
	r := gin.New()
	r.Use(Correlation())
	r.GET("/", func(c *gin.Context) {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.String(http.StatusOK, cid)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-correlation-id", "corr-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "corr-1", w.Body.String())
	require.Equal(t, "corr-1", w.Header().Get(HeaderCorrelationId))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, w.Body.String(), 36)
	require.Equal(t, w.Body.String(), w.Header().Get(HeaderCorrelationId))
}

func TestRateLimiterPassesThroughWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(func() *redis.Client { return nil }, 1, time.Minute)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestRateLimiterWindowKey(t *testing.T) {
	rl := NewRateLimiter(nil, 10, time.Minute)
	at := time.Unix(120, 0)
	require.Equal(t, "ratelimit:10.0.0.1:2", rl.windowKey("10.0.0.1", at))
	require.Equal(t, "ratelimit:10.0.0.1:2", rl.windowKey("10.0.0.1", at.Add(59*time.Second)))
	require.Equal(t, "ratelimit:10.0.0.1:3", rl.windowKey("10.0.0.1", at.Add(60*time.Second)))
}

func TestRateLimiterFromEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	require.Nil(t, RateLimiterFromEnv())

	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "5")
	rl := RateLimiterFromEnv()
	require.NotNil(t, rl)
	require.EqualValues(t, 5, rl.limit)
	require.Equal(t, time.Minute, rl.window)
}
