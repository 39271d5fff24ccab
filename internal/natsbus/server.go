// Package natsbus runs the embedded NATS server that carries fleet audit
// events to subscribers such as the web hub. Routed fleet messages never
// travel over it.
package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const (
	readyTimeout = 5 * time.Second
	// Heartbeat bursts from a large fleet are bigger than the default
	// per-client pending limit.
	maxPending = 256 << 20
)

// Bus is a loopback-only NATS server owned by the fleet process.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// New starts the server. A port of -1 picks a free one. DataDir is only
// created when set.
func New(cfg config.NATSConfig) (*Bus, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create nats data dir: %w", err)
		}
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "fleetctl",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		MaxPending: maxPending,
		StoreDir:   cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}
	return &Bus{server: ns, cfg: cfg}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Clients reports how many connections are open, publishers included.
func (b *Bus) Clients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
