// Package session implements the operator-facing driver: it reads lines
// from standard input, dispatches command lines, force-routes ">" lines,
// and hands everything else to the orchestration loop with the primary
// agent as the initial speaker. A background monitor watches for agents
// that die mid-session.
package session

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/duetctl/duet/internal/collector"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/history"
	"github.com/duetctl/duet/internal/orchestrator"
	"github.com/duetctl/duet/internal/ptyagent"
	"github.com/duetctl/duet/internal/registry"
	"github.com/duetctl/duet/internal/relay"
	"github.com/duetctl/duet/internal/sanitize"
	"github.com/duetctl/duet/internal/vt100"
)

// directoryAdapter makes *registry.Registry satisfy orchestrator.Directory;
// the two packages intentionally don't import each other.
type directoryAdapter struct{ reg *registry.Registry }

func (d directoryAdapter) Get(name string) (orchestrator.Agent, bool) {
	a, ok := d.reg.Get(name)
	if !ok {
		return nil, false
	}
	return a, true
}

func (d directoryAdapter) Names() []string { return d.reg.Names() }

// Driver is the session driver (C7).
type Driver struct {
	cfg      *config.Config
	registry *registry.Registry
	history  *history.Store
	logger   *slog.Logger

	out io.Writer
	hub *relay.Hub

	monitorStop chan struct{}
	monitorDone chan struct{}

	wasRunning map[string]bool
}

// SetRelayHub attaches an observer broadcast hub; every subsequent turn
// emitted by the session is also published to it. Pass nil to detach.
func (d *Driver) SetRelayHub(hub *relay.Hub) {
	d.hub = hub
}

// New builds a Driver from a loaded config, registering (but not yet
// starting) one ptyagent.Agent per enabled config entry.
func New(cfg *config.Config, hist *history.Store, logger *slog.Logger, out io.Writer) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	reg := registry.New(logger)
	for _, ac := range cfg.EnabledAgents() {
		reg.Register(ptyagent.New(toDescriptor(ac), logger))
	}

	return &Driver{
		cfg:        cfg,
		registry:   reg,
		history:    hist,
		logger:     logger,
		out:        out,
		wasRunning: make(map[string]bool),
	}
}

func toDescriptor(ac config.AgentConfig) ptyagent.Descriptor {
	quirks := ptyagent.QuirkFlags{
		PromptActivated: ac.Command == "codex",
		NeedsCRAfterLF:  ac.Command == "codex",
		Heartbeat:       ac.Heartbeat.Enabled,
	}
	return ptyagent.Descriptor{
		Name:    ac.Name,
		Command: ac.Command,
		Args:    ac.Args,
		Startup: ptyagent.StartupConfig{
			Timeout:             seconds(ac.Startup.TimeoutSeconds),
			WaitAfterStart:      seconds(ac.Startup.WaitAfterStart),
			InitialReadAttempts: ac.Startup.InitialReadAttempts,
		},
		Heartbeat: ptyagent.HeartbeatConfig{
			Enabled:  ac.Heartbeat.Enabled,
			Interval: seconds(ac.Heartbeat.IntervalSeconds),
		},
		Quirks: quirks,
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func collectorConfig(ac config.AgentConfig) collector.Config {
	return collector.Config{
		Timeout:       seconds(ac.Response.TimeoutSeconds),
		ReadTimeout:   seconds(ac.Response.ReadTimeoutSeconds),
		MaxIdleChecks: ac.Response.MaxIdleChecks,
		IdleWaitWarm:  seconds(ac.Response.IdleWaitSeconds),
		IdleWaitCold:  seconds(ac.Response.IdleWaitSeconds),
	}
}

// StartAgents starts every registered agent and reports per-agent results.
func (d *Driver) StartAgents() []registry.StartResult {
	return d.registry.StartAll()
}

// Statuses reports every registered agent's current running state, for a
// dashboard or other passive status view.
func (d *Driver) Statuses() []registry.Status {
	return d.registry.StatusAll()
}

// Agent exposes one registered agent directly, for callers (remote
// attachment) that need more than Statuses provides.
func (d *Driver) Agent(name string) (*ptyagent.Agent, bool) {
	return d.registry.Get(name)
}

// AgentNames lists every registered agent's name, in registration order.
func (d *Driver) AgentNames() []string {
	return d.registry.Names()
}

// Primary returns the first registered, running agent.
func (d *Driver) Primary() (*ptyagent.Agent, bool) {
	return d.registry.Primary()
}

// StartMonitor launches the background liveness monitor (every 10s).
func (d *Driver) StartMonitor() {
	d.monitorStop = make(chan struct{})
	d.monitorDone = make(chan struct{})

	for _, name := range d.registry.Names() {
		a, _ := d.registry.Get(name)
		d.wasRunning[name] = a.IsRunning()
	}

	go func() {
		defer close(d.monitorDone)
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-d.monitorStop:
				return
			case <-ticker.C:
				d.checkLiveness()
			}
		}
	}()
}

func (d *Driver) checkLiveness() {
	for _, name := range d.registry.Names() {
		a, _ := d.registry.Get(name)
		running := a.IsRunning()
		if d.wasRunning[name] && !running {
			d.fprintf("\n[%s] agent stopped unexpectedly\n", name)
			if d.history != nil {
				d.history.AddSystemMessage(fmt.Sprintf("agent %s stopped", name))
			}
			if d.hub != nil {
				d.hub.Publish(relay.StatusMessage(name, "stopped"))
			}
		}
		d.wasRunning[name] = running
	}
}

// StopMonitor stops the background monitor, if running.
func (d *Driver) StopMonitor() {
	if d.monitorStop == nil {
		return
	}
	close(d.monitorStop)
	<-d.monitorDone
}

// Shutdown terminates every agent and stops the monitor.
func (d *Driver) Shutdown() {
	d.StopMonitor()
	d.registry.Shutdown()
}

// HandleSignals wires SIGINT/SIGTERM to a clean shutdown.
func (d *Driver) HandleSignals() {
	d.registry.HandleSignals()
}

func (d *Driver) fprintf(format string, args ...any) {
	if d.out != nil {
		fmt.Fprintf(d.out, format, args...)
	}
}

// Run reads operator lines from in until EOF, dispatching each per the
// "/", ">", and plain-text rules.
func (d *Driver) Run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	primary, ok := d.Primary()
	if !ok {
		d.fprintf("no agent is running; nothing to do\n")
		return
	}

	for {
		d.fprintf("%s", d.cfg.Prompt(primary.Name()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		d.dispatch(line, primary)
	}
}

func (d *Driver) dispatch(line string, primary *ptyagent.Agent) {
	switch {
	case strings.HasPrefix(line, "/"):
		d.handleCommand(strings.TrimPrefix(line, "/"))

	case strings.HasPrefix(line, ">"):
		d.forceRoute(strings.TrimSpace(strings.TrimPrefix(line, ">")))

	default:
		d.orchestrate(line, primary)
	}
}

func (d *Driver) handleCommand(cmd string) {
	cmd = strings.TrimSpace(cmd)
	switch {
	case cmd == "status":
		for _, st := range d.registry.StatusAll() {
			state := "stopped"
			if st.Running {
				state = "running"
			}
			d.fprintf("  %s: %s\n", st.Name, state)
		}
	case strings.HasPrefix(cmd, "screen"):
		d.handleScreen(strings.TrimSpace(strings.TrimPrefix(cmd, "screen")))
	default:
		d.fprintf("unknown command: /%s\n", cmd)
	}
}

// handleScreen reconstructs the named agent's current terminal screen from
// whatever raw output is available right now and prints it. It's a
// snapshot, not a live mirror: continuous mirroring would need the raw
// PTY stream dedicated to one reader, which the orchestration loop's own
// Read already claims.
func (d *Driver) handleScreen(name string) {
	if name == "" {
		d.fprintf("usage: /screen <agent>\n")
		return
	}
	a, ok := d.registry.Get(name)
	if !ok {
		d.fprintf("unknown agent: %s\n", name)
		return
	}

	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		cols, rows = 80, 24
	}
	parser := vt100.New(rows, cols)
	parser.Process(a.ReadRaw(200 * time.Millisecond))
	for _, line := range parser.GetScreen() {
		d.fprintf("%s\n", line)
	}
}

// forceRoute sends text directly to the first running non-primary agent,
// in registration order, bypassing the orchestration loop entirely.
func (d *Driver) forceRoute(text string) {
	primary, _ := d.Primary()
	var target *ptyagent.Agent
	for _, name := range d.registry.Names() {
		a, _ := d.registry.Get(name)
		if primary != nil && a.Name() == primary.Name() {
			continue
		}
		if a.IsRunning() {
			target = a
			break
		}
	}
	if target == nil {
		d.fprintf("no secondary agent available\n")
		return
	}
	if err := target.Send(text); err != nil {
		d.fprintf("send failed: %v\n", err)
		return
	}

	ac, _ := d.cfg.AgentByName(target.Name())
	cfg := collectorConfig(ac)
	raw := collector.Collect(readerOf(target), cfg)
	filter := sanitize.NewFilter(d.cfg.Output.Filtering.NoiseKeywords)
	reply := filter.Clean([]byte(raw))
	d.emit(target.Name(), reply)
}

func (d *Driver) orchestrate(text string, primary *ptyagent.Agent) {
	if d.history != nil {
		d.history.AddUserMessage(text)
	}

	ac, _ := d.cfg.AgentByName(primary.Name())
	out := orchestrator.Run(primary, text, directoryAdapter{d.registry}, d.logger, orchestrator.Config{
		LoopBudget:      d.cfg.Orchestrator.LoopBudget,
		AutoOrchestrate: d.cfg.Orchestrator.AutoOrchestrate,
		CollectorConfig: collectorConfig(ac),
		Filter:          sanitize.NewFilter(d.cfg.Output.Filtering.NoiseKeywords),
		Emit:            d.emit,
	})

	switch out.Stopped {
	case orchestrator.StopCompleted:
		d.fprintf("%s\n", out.FinalResult)
	case orchestrator.StopLoopBudget:
		d.fprintf("[loop budget exhausted after %d iterations]\n", out.Iterations)
	case orchestrator.StopUnknownAgent:
		d.fprintf("[agent not available]\n")
	case orchestrator.StopMarkerAbsent:
		d.fprintf("[no routing or completion marker in reply]\n")
	case orchestrator.StopSendFailure:
		d.fprintf("[send failed]\n")
	}
	if d.history != nil {
		d.history.AddSystemMessage(fmt.Sprintf("turn ended: %s", out.Stopped))
	}
}

func (d *Driver) emit(agentName, text string) {
	d.fprintf("[%s] %s\n", agentName, text)
	if d.history != nil {
		d.history.AddAgentMessage(agentName, text)
	}
	if d.hub != nil {
		d.hub.Publish(relay.TurnMessage(agentName, text))
	}
}

func readerOf(a *ptyagent.Agent) collector.Reader {
	return agentReader{a}
}

type agentReader struct{ a *ptyagent.Agent }

func (r agentReader) Read(timeout time.Duration) string { return r.a.Read(timeout) }
