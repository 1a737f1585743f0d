package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/nats-io/nats.go"
)

// Header names the Broadcaster accepts for the shared secret, in addition to a bearer token.
const (
	HeaderWebhookSecret    = "X-Webhook-Secret"
	HeaderBroadcasterToken = "X-Broadcaster-Token"
	HeaderCorrelationId    = "X-Correlation-Id"
)

const (
	TransportWebhook = "webhook"
	TransportPubSub  = "pubsub"
	TransportNATS    = "nats"
)

var ErrDispatchDisabled = errors.New("outbound dispatch is not configured")

// Notifier delivers one serialized event. Implementations must honor ctx deadlines.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, requestId string, correlationId string, body []byte) error
}

type WebhookNotifier struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookNotifier(url string, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Secret: secret,
		// per-attempt deadlines come from ctx
		Client: &http.Client{},
	}
}

func (n *WebhookNotifier) Name() string { return TransportWebhook }

func (n *WebhookNotifier) Notify(ctx context.Context, requestId string, correlationId string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if n.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.Secret)
		req.Header.Set(HeaderWebhookSecret, n.Secret)
	}
	if correlationId != "" {
		req.Header.Set(HeaderCorrelationId, correlationId)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("broadcaster webhook error %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type PubSubNotifier struct {
	topic *pubsub.Topic
}

func NewPubSubNotifier(client *pubsub.Client, topicID string) *PubSubNotifier {
	return &PubSubNotifier{topic: client.Topic(topicID)}
}

func (n *PubSubNotifier) Name() string { return TransportPubSub }

func (n *PubSubNotifier) Notify(ctx context.Context, requestId string, correlationId string, body []byte) error {
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"event":          EventRequestCreated,
			"request_id":     requestId,
			"correlation_id": correlationId,
		},
	})
	_, err := result.Get(ctx)
	return err
}

func (n *PubSubNotifier) Stop() {
	n.topic.Stop()
}

type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	secret  string
}

func NewNATSNotifier(conn *nats.Conn, subject string, secret string) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject, secret: secret}
}

func (n *NATSNotifier) Name() string { return TransportNATS }

func (n *NATSNotifier) Notify(ctx context.Context, requestId string, correlationId string, body []byte) error {
	msg := nats.NewMsg(n.subject)
	msg.Data = body
	msg.Header.Set("Request-Id", requestId)
	if correlationId != "" {
		msg.Header.Set(HeaderCorrelationId, correlationId)
	}
	if n.secret != "" {
		msg.Header.Set(HeaderWebhookSecret, n.secret)
	}
	if err := n.conn.PublishMsg(msg); err != nil {
		return err
	}
	return n.conn.FlushWithContext(ctx)
}

// NotifierFromEnv builds the notifier selected by DISPATCH_TRANSPORT.
// Returns ErrDispatchDisabled when the webhook transport has no target URL.
func NotifierFromEnv(ctx context.Context) (Notifier, error) {
	secret := config.WebhookSecret()
	switch config.DispatchTransport() {
	case TransportPubSub:
		client, err := config.GetPubSubClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewPubSubNotifier(client, config.DispatchPubSubTopic()), nil
	case TransportNATS:
		conn, err := config.GetNATSConn()
		if err != nil {
			return nil, err
		}
		return NewNATSNotifier(conn, config.DispatchNATSSubject(), secret), nil
	case TransportWebhook:
		url := config.BroadcasterWebhookURL()
		if url == "" {
			return nil, ErrDispatchDisabled
		}
		return NewWebhookNotifier(url, secret), nil
	default:
		return nil, fmt.Errorf("unknown dispatch transport %q", config.DispatchTransport())
	}
}
