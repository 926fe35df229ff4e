package session

import (
	"bytes"
	"strings"
	"testing"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/history"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agents = []config.AgentConfig{
		{Name: "a1", Command: "cat", Enabled: true},
		{Name: "a2", Command: "cat", Enabled: true},
	}
	cfg.Orchestrator.LoopBudget = 3
	cfg.Orchestrator.AutoOrchestrate = false
	return cfg
}

func newTestDriver(t *testing.T) (*Driver, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	d := New(testConfig(), history.New("", 0, false), nil, &out)
	results := d.StartAgents()
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("agent %s failed to start: %v", r.Name, r.Err)
		}
	}
	t.Cleanup(d.Shutdown)
	return d, &out
}

func TestNewRegistersEnabledAgentsOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = append(cfg.Agents, config.AgentConfig{Name: "off", Command: "cat", Enabled: false})
	d := New(cfg, history.New("", 0, false), nil, nil)
	if len(d.registry.Names()) != 2 {
		t.Fatalf("registry has %v, want 2 enabled agents", d.registry.Names())
	}
}

func TestPrimaryIsFirstRunningAgent(t *testing.T) {
	d, _ := newTestDriver(t)
	p, ok := d.Primary()
	if !ok || p.Name() != "a1" {
		t.Fatalf("Primary() = %v, %v, want a1", p, ok)
	}
}

func TestHandleStatusCommandListsAgents(t *testing.T) {
	d, out := newTestDriver(t)
	d.handleCommand("status")
	got := out.String()
	if !strings.Contains(got, "a1: running") || !strings.Contains(got, "a2: running") {
		t.Fatalf("status output = %q, want both agents listed as running", got)
	}
}

func TestUnknownCommandReportsError(t *testing.T) {
	d, out := newTestDriver(t)
	d.handleCommand("bogus")
	if !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("output = %q, want unknown command notice", out.String())
	}
}

func TestForceRouteBypassesOrchestrationLoop(t *testing.T) {
	d, out := newTestDriver(t)
	d.forceRoute("hello a2")
	if !strings.Contains(out.String(), "[a2]") {
		t.Fatalf("output = %q, want a reply tagged from a2", out.String())
	}
}

func TestDispatchRoutesByPrefix(t *testing.T) {
	d, out := newTestDriver(t)
	primary, _ := d.Primary()

	d.dispatch("/status", primary)
	if !strings.Contains(out.String(), "a1: running") {
		t.Fatalf("expected /status to list agents, got %q", out.String())
	}

	out.Reset()
	d.dispatch("> direct message", primary)
	if !strings.Contains(out.String(), "[a2]") {
		t.Fatalf("expected > to force-route to a2, got %q", out.String())
	}
}

func TestHandleScreenReportsUnknownAgent(t *testing.T) {
	d, out := newTestDriver(t)
	d.handleCommand("screen nope")
	if !strings.Contains(out.String(), "unknown agent: nope") {
		t.Fatalf("output = %q, want unknown agent notice", out.String())
	}
}

func TestHandleScreenRequiresAnArgument(t *testing.T) {
	d, out := newTestDriver(t)
	d.handleCommand("screen")
	if !strings.Contains(out.String(), "usage: /screen") {
		t.Fatalf("output = %q, want usage notice", out.String())
	}
}

func TestHandleScreenRendersAgentOutput(t *testing.T) {
	d, out := newTestDriver(t)
	a1, _ := d.registry.Get("a1")
	if err := a1.Send("hello screen"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	d.handleCommand("screen a1")
	if !strings.Contains(out.String(), "hello screen") {
		t.Fatalf("output = %q, want echoed input reflected in the screen", out.String())
	}
}

func TestMonitorReportsAgentStoppedUnexpectedly(t *testing.T) {
	d, out := newTestDriver(t)
	d.wasRunning["a2"] = true

	a2, _ := d.registry.Get("a2")
	a2.Terminate()

	d.checkLiveness()
	if !strings.Contains(out.String(), "a2] agent stopped unexpectedly") {
		t.Fatalf("output = %q, want a2 stopped notice", out.String())
	}
}
