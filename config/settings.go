package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// WebhookSecret is the shared secret the Broadcaster presents on inbound sync calls
// and that outbound notifications carry.
//
// Set via env:
// - WEBHOOK_SECRET
func WebhookSecret() string {
	return strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
}

// BroadcasterWebhookURL is the outbound target for new-request notifications.
// Empty disables the webhook transport.
func BroadcasterWebhookURL() string {
	return strings.TrimSpace(os.Getenv("BROADCASTER_WEBHOOK_URL"))
}

// DispatchTransport selects the outbound notifier: webhook (default), pubsub or nats.
func DispatchTransport() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISPATCH_TRANSPORT")))
	if v == "" {
		return "webhook"
	}
	return v
}

func DispatchTimeout() time.Duration {
	return time.Duration(IntFromEnv("DISPATCH_TIMEOUT_SECONDS", 15)) * time.Second
}

// DispatchMaxAttempts bounds outbound retries. 1 keeps the one-shot behavior.
func DispatchMaxAttempts() int {
	n := IntFromEnv("DISPATCH_MAX_ATTEMPTS", 1)
	if n < 1 {
		return 1
	}
	return n
}

func DispatchQueueSize() int {
	return IntFromEnv("DISPATCH_QUEUE_SIZE", 256)
}

func DispatchWorkers() int {
	return IntFromEnv("DISPATCH_WORKERS", 4)
}

func DispatchPubSubTopic() string {
	return StringFromEnv("DISPATCH_PUBSUB_TOPIC", "cargo-requests")
}

func DispatchNATSSubject() string {
	return StringFromEnv("DISPATCH_NATS_SUBJECT", "cargo.requests.created")
}

// AllocatorMaxAttempts bounds the request id allocator's collision loop.
func AllocatorMaxAttempts() int {
	n := IntFromEnv("ALLOCATOR_MAX_ATTEMPTS", 25)
	if n < 1 {
		return 1
	}
	return n
}

// StrictCloseTimestamp rejects SyncClose calls that carry no closed_at.
//
// Set via env:
// - STRICT_CLOSE_TIMESTAMP=true
func StrictCloseTimestamp() bool {
	return BoolFromEnv("STRICT_CLOSE_TIMESTAMP", false)
}

func DefaultPhoneRegion() string {
	return strings.ToUpper(StringFromEnv("DEFAULT_PHONE_REGION", "US"))
}

func IntFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func StringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func BoolFromEnv(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
