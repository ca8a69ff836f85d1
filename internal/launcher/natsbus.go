// Package launcher adapts a persona's configured command into a running
// agent process: it spawns the subprocess, bridges its stdin/stdout/stderr
// over an embedded NATS server, and calls back into agentsvc.Service so the
// coordination kernel's own state machine — not the subprocess — is the
// source of truth for the agent's lifecycle. Grounded on the teacher's
// internal/nats (Client) and internal/aider (Bridge, Spawner), generalized
// from an Aider-specific CLI to an arbitrary persona command.
package launcher

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/coopforge/sergeant/internal/logging"
)

var log = logging.Component("launcher")

// Bus wraps a NATS connection with the publish/subscribe surface the bridge
// needs. It is the teacher's nats.Client (internal/nats/client.go) with its
// fmt.Printf connection-event logging swapped for zerolog.
type Bus struct {
	conn     *nc.Conn
	clientID string
}

// NewBus connects to url with reconnect handling, identified as clientID.
func NewBus(url, clientID string) (*Bus, error) {
	busLog := logging.Component("launcher.bus")
	opts := []nc.Option{
		nc.Name(clientID),
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				busLog.Warn().Err(err).Str("client_id", clientID).Msg("nats disconnected")
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			busLog.Info().Str("client_id", clientID).Str("url", conn.ConnectedUrl()).Msg("nats reconnected")
		}),
		nc.ClosedHandler(func(_ *nc.Conn) {
			busLog.Info().Str("client_id", clientID).Msg("nats connection closed")
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("launcher: connect to nats: %w", err)
	}
	return &Bus{conn: conn, clientID: clientID}, nil
}

// Close closes the underlying connection.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// PublishJSON marshals v and publishes it to subject.
func (b *Bus) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("launcher: marshal message: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("launcher: publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an asynchronous subscription that passes each raw
// message to handler; decoding the payload is left to handler.
func (b *Bus) Subscribe(subject string, handler func(*nc.Msg)) (*nc.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("launcher: subscribe to %s: %w", subject, err)
	}
	return sub, nil
}
