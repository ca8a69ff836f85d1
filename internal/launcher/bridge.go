package launcher

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nc "github.com/nats-io/nats.go"
)

// StatusMessage is a process status update published on
// agent.<id>.status, for external tooling that wants to watch an agent's
// subprocess without going through opsurface.
type StatusMessage struct {
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is sent to an agent via agent.<id>.command.
type CommandMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Bridge pipes one subprocess's stdin/stdout/stderr through NATS subjects
// scoped to its agent ID. It is the teacher's aider.Bridge
// (internal/aider/bridge.go) with the Aider-specific output parsing
// replaced by a persona-agnostic "STATUS: <word> <detail>" line protocol:
// any persona command that wants to report status writes such a line to
// stdout and the bridge relays it, instead of this package pattern-matching
// one tool's particular phrasing.
type Bridge struct {
	agentID string

	status    string
	detail    string
	connected bool
	mu        sync.RWMutex

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	bus    *Bus
	stopCh chan struct{}
}

// NewBridge constructs a Bridge for agentID over the given process pipes.
func NewBridge(agentID string, bus *Bus, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *Bridge {
	return &Bridge{
		agentID: agentID,
		status:  "starting",
		bus:     bus,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		stopCh:  make(chan struct{}),
	}
}

// Start subscribes to the agent's command subject and begins relaying
// process output.
func (b *Bridge) Start() error {
	subject := fmt.Sprintf("agent.%s.command", b.agentID)
	if _, err := b.bus.Subscribe(subject, b.handleCommand); err != nil {
		return fmt.Errorf("launcher: subscribe to commands: %w", err)
	}

	go b.relay(b.stdout, "stdout")
	go b.relay(b.stderr, "stderr")

	b.mu.Lock()
	b.connected = true
	b.status = "connected"
	b.mu.Unlock()
	b.publishStatus("connected", "ready")

	log.Info().Str("agent_id", b.agentID).Msg("bridge started")
	return nil
}

// Stop terminates the bridge, closing the process's pipes.
func (b *Bridge) Stop() {
	select {
	case <-b.stopCh:
		return
	default:
		close(b.stopCh)
	}

	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	if b.stdin != nil {
		b.stdin.Close()
	}
	if b.stdout != nil {
		b.stdout.Close()
	}
	if b.stderr != nil {
		b.stderr.Close()
	}

	b.publishStatus("disconnected", "bridge stopped")
	log.Info().Str("agent_id", b.agentID).Msg("bridge stopped")
}

func (b *Bridge) relay(r io.ReadCloser, stream string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-b.stopCh:
			return
		default:
		}

		line := scanner.Text()
		b.publishOutput(stream, line)

		if status, detail, ok := parseStatusLine(line); ok {
			b.mu.Lock()
			b.status = status
			b.detail = detail
			b.mu.Unlock()
			b.publishStatus(status, detail)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("agent_id", b.agentID).Str("stream", stream).Msg("scanner error")
	}

	if stream == "stdout" {
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()
		b.publishStatus("disconnected", "process output closed")
	}
}

// parseStatusLine recognizes "STATUS: <word>[ <detail>]" lines.
func parseStatusLine(line string) (status, detail string, ok bool) {
	const prefix = "STATUS:"
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(trimmed[len(prefix):])
	parts := strings.SplitN(rest, " ", 2)
	status = parts[0]
	if len(parts) == 2 {
		detail = parts[1]
	}
	if status == "" {
		return "", "", false
	}
	return status, detail, true
}

func (b *Bridge) handleCommand(msg *nc.Msg) {
	var cmd CommandMessage
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		log.Warn().Err(err).Str("agent_id", b.agentID).Msg("invalid command payload")
		return
	}

	switch cmd.Type {
	case "input":
		if text, ok := cmd.Payload["text"].(string); ok {
			fmt.Fprintln(b.stdin, text)
		}
	case "stop":
		if b.stdin != nil {
			b.stdin.Close()
		}
	default:
		log.Warn().Str("agent_id", b.agentID).Str("type", cmd.Type).Msg("unknown command type")
	}
}

func (b *Bridge) publishStatus(status, detail string) {
	msg := StatusMessage{AgentID: b.agentID, Status: status, Detail: detail, Timestamp: time.Now()}
	subject := fmt.Sprintf("agent.%s.status", b.agentID)
	if err := b.bus.PublishJSON(subject, msg); err != nil {
		log.Warn().Err(err).Str("agent_id", b.agentID).Msg("failed to publish status")
	}
}

func (b *Bridge) publishOutput(stream, line string) {
	subject := fmt.Sprintf("agent.%s.output", b.agentID)
	_ = b.bus.PublishJSON(subject, map[string]any{
		"agent_id":  b.agentID,
		"stream":    stream,
		"line":      line,
		"timestamp": time.Now(),
	})
}

// IsConnected reports whether the bridge still considers the process live.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// SendInput writes a line to the process's stdin directly, bypassing NATS,
// for in-process callers.
func (b *Bridge) SendInput(text string) error {
	_, err := fmt.Fprintln(b.stdin, text)
	return err
}
