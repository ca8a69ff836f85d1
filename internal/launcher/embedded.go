package launcher

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer hosts an in-process NATS server so the launcher never
// depends on an externally-managed broker. The teacher always dialed an
// existing NATS deployment (internal/nats/client.go); embedding one here is
// the one addition SPEC_FULL.md's launcher module calls for, since
// sergeantd is meant to run as a single self-contained binary.
type EmbeddedServer struct {
	srv *server.Server
}

// StartEmbeddedServer starts an embedded NATS server on port.
func StartEmbeddedServer(port int) (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: false,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("launcher: create embedded nats server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("launcher: embedded nats server did not become ready")
	}

	return &EmbeddedServer{srv: srv}, nil
}

// ClientURL returns the URL agents use to connect to this server.
func (e *EmbeddedServer) ClientURL() string {
	return e.srv.ClientURL()
}

// Shutdown stops the embedded server, waiting for connections to drain.
func (e *EmbeddedServer) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
