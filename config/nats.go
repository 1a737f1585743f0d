package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	natsConn   *nats.Conn
	natsConnMu sync.Mutex
)

// GetNATSConn lazily connects to NATS_URL. The connection reconnects on its own once established.
func GetNATSConn() (*nats.Conn, error) {
	natsConnMu.Lock()
	defer natsConnMu.Unlock()
	if natsConn != nil && !natsConn.IsClosed() {
		return natsConn, nil
	}
	url := strings.TrimSpace(os.Getenv("NATS_URL"))
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("cargo-mirror-dispatcher"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	natsConn = conn
	return natsConn, nil
}

func CloseNATS() {
	natsConnMu.Lock()
	defer natsConnMu.Unlock()
	if natsConn != nil {
		natsConn.Close()
		natsConn = nil
	}
}
