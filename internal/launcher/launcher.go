package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/coopforge/sergeant/internal/agentsvc"
	"github.com/coopforge/sergeant/internal/config"
	"github.com/coopforge/sergeant/internal/store"
)

// runningProcess tracks one live subprocess and its bridge, keyed by the
// agentsvc-assigned agent ID rather than a launcher-local ID — the
// coordination kernel's Agent record is the source of truth, this is just
// the OS-level handle to it.
type runningProcess struct {
	agentID string
	bridge  *Bridge
	cmd     *exec.Cmd
	started time.Time
}

// PersonaLauncher spawns subprocesses for configured personas, bridges
// their I/O over NATS, and drives their agentsvc lifecycle record. It never
// touches work items directly: that stays the agent process's own job via
// opsurface, and Kill's reclaim is agentsvc's job, not the launcher's. It
// is the teacher's aider.Spawner (internal/aider/spawner.go) generalized
// from one hardcoded Aider command to any config.PersonaConfig.Command.
type PersonaLauncher struct {
	agents   *agentsvc.Service
	personas map[string]config.PersonaConfig
	bus      *Bus
	grace    time.Duration

	mu        sync.Mutex
	processes map[string]*runningProcess

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPersonaLauncher constructs a PersonaLauncher. personas is keyed by
// persona name.
func NewPersonaLauncher(agents *agentsvc.Service, personas []config.PersonaConfig, bus *Bus, killGrace time.Duration) *PersonaLauncher {
	byName := make(map[string]config.PersonaConfig, len(personas))
	for _, p := range personas {
		byName[p.Name] = p
	}

	l := &PersonaLauncher{
		agents:    agents,
		personas:  byName,
		bus:       bus,
		grace:     killGrace,
		processes: make(map[string]*runningProcess),
		stopCh:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.monitor()

	return l
}

// Launch spawns a subprocess for persona, registers its agent record, and
// marks it Running once the bridge reports the process connected.
func (l *PersonaLauncher) Launch(ctx context.Context, persona string) (*store.Agent, error) {
	pc, ok := l.personas[persona]
	if !ok {
		return nil, fmt.Errorf("launcher: unknown persona %q", persona)
	}
	if pc.Command == "" {
		return nil, fmt.Errorf("launcher: persona %q has no command configured", persona)
	}

	agent, err := l.agents.Register(ctx, persona, nil)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(pc.Command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start %s: %w", pc.Command, err)
	}

	pid := cmd.Process.Pid
	agent.PID = &pid

	bridge := NewBridge(agent.ID, l.bus, stdin, stdout, stderr)
	if err := bridge.Start(); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("launcher: start bridge: %w", err)
	}

	l.mu.Lock()
	l.processes[agent.ID] = &runningProcess{agentID: agent.ID, bridge: bridge, cmd: cmd, started: time.Now()}
	l.mu.Unlock()

	if err := l.agents.MarkRunning(ctx, agent.ID); err != nil {
		log.Warn().Err(err).Str("agent_id", agent.ID).Msg("failed to mark launched agent running")
	}

	log.Info().Str("agent_id", agent.ID).Str("persona", persona).Int("pid", pid).Msg("persona launched")
	return agent, nil
}

// Kill stops the subprocess for agentID (if still running) and marks the
// agent Killed, reclaiming its in-progress work via agentsvc.Service.Kill.
func (l *PersonaLauncher) Kill(ctx context.Context, agentID, reason string) ([]string, error) {
	l.mu.Lock()
	proc, ok := l.processes[agentID]
	delete(l.processes, agentID)
	l.mu.Unlock()

	if ok {
		l.stopProcess(proc)
	}

	return l.agents.Kill(ctx, agentID, reason)
}

func (l *PersonaLauncher) stopProcess(proc *runningProcess) {
	proc.bridge.Stop()

	done := make(chan error, 1)
	go func() { done <- proc.cmd.Wait() }()

	select {
	case <-done:
		return
	case <-time.After(l.grace):
		log.Warn().Str("agent_id", proc.agentID).Msg("graceful stop timed out, sending SIGTERM")
		proc.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
			return
		case <-time.After(l.grace):
			log.Warn().Str("agent_id", proc.agentID).Msg("SIGTERM timed out, killing process")
			proc.cmd.Process.Kill()
			<-done
		}
	}
}

// Shutdown stops every running process and the monitor goroutine.
func (l *PersonaLauncher) Shutdown() {
	close(l.stopCh)

	l.mu.Lock()
	procs := make([]*runningProcess, 0, len(l.processes))
	for _, p := range l.processes {
		procs = append(procs, p)
	}
	l.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *runningProcess) {
			defer wg.Done()
			l.stopProcess(p)
		}(p)
	}
	wg.Wait()
	l.wg.Wait()
}

// monitor periodically checks for subprocesses that exited without going
// through Kill, e.g. a crash, and kills their agent record to trigger work
// reclaim.
func (l *PersonaLauncher) monitor() {
	defer l.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.reapCrashed()
		}
	}
}

func (l *PersonaLauncher) reapCrashed() {
	l.mu.Lock()
	var crashed []*runningProcess
	for id, proc := range l.processes {
		if !isProcessRunning(proc.cmd.Process) {
			crashed = append(crashed, proc)
			delete(l.processes, id)
		}
	}
	l.mu.Unlock()

	for _, proc := range crashed {
		log.Warn().Str("agent_id", proc.agentID).Msg("persona process crashed, reclaiming via kill")
		proc.bridge.Stop()
		if _, err := l.agents.Kill(context.Background(), proc.agentID, "process exited unexpectedly"); err != nil {
			log.Warn().Err(err).Str("agent_id", proc.agentID).Msg("failed to kill crashed agent record")
		}
	}
}

func isProcessRunning(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}
