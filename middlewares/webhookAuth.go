package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/sirupsen/logrus"
)

// Header forms the Broadcaster may use to present the shared secret.
const (
	HeaderWebhookSecret    = "X-Webhook-Secret"
	HeaderBroadcasterToken = "X-Broadcaster-Token"
)

func presentedSecrets(r *http.Request) []string {
	var out []string
	if auth := r.Header.Get("Authorization"); len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		out = append(out, strings.TrimSpace(auth[len("Bearer "):]))
	}
	for _, h := range []string{HeaderWebhookSecret, HeaderBroadcasterToken} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func secretMatches(presented []string, secret string) bool {
	matched := 0
	for _, p := range presented {
		// compare every candidate so timing does not reveal which header matched
		matched |= subtle.ConstantTimeCompare([]byte(p), []byte(secret))
	}
	return matched == 1
}

// WebhookAuth rejects inbound sync calls that do not carry the shared secret in at
// least one accepted header. An unset secret rejects everything.
func WebhookAuth(secret func() string) gin.HandlerFunc {
	if secret == nil {
		secret = config.WebhookSecret
	}
	return func(c *gin.Context) {
		expected := secret()
		logger := config.LogEntry(c.Request.Context(), config.GetLogger()).WithFields(logrus.Fields{
			"field": "WebhookAuth",
			"path":  c.Request.URL.Path,
		})
		if expected == "" {
			logger.Error("WEBHOOK_SECRET is not configured; rejecting sync call")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		if !secretMatches(presentedSecrets(c.Request), expected) {
			logger.WithField("client_ip", c.ClientIP()).Warn("sync call rejected: missing or wrong webhook secret")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}
