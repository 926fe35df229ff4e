package orchestrator

import (
	"testing"
	"time"

	"github.com/duetctl/duet/internal/collector"
)

// fakeAgent scripts a fixed sequence of replies for a named agent, one per
// Send/Read cycle, mimicking the scenarios in the spec's worked examples.
type fakeAgent struct {
	name    string
	replies []string
	sent    []string
	running bool
	pending string
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Send(text string) error {
	f.sent = append(f.sent, text)
	if len(f.replies) > 0 {
		f.pending = f.replies[0]
		f.replies = f.replies[1:]
	}
	return nil
}

func (f *fakeAgent) Read(time.Duration) string {
	r := f.pending
	f.pending = ""
	return r
}

func (f *fakeAgent) IsRunning() bool { return f.running }

type fakeDirectory struct {
	agents map[string]*fakeAgent
	order  []string
}

func newDirectory(agents ...*fakeAgent) *fakeDirectory {
	d := &fakeDirectory{agents: make(map[string]*fakeAgent)}
	for _, a := range agents {
		d.agents[a.name] = a
		d.order = append(d.order, a.name)
	}
	return d
}

func (d *fakeDirectory) Get(name string) (Agent, bool) {
	a, ok := d.agents[name]
	if !ok {
		return nil, false
	}
	return a, true
}

func (d *fakeDirectory) Names() []string { return d.order }

func instantConfig() Config {
	return Config{
		CollectorConfig: collector.Config{
			Timeout:       time.Second,
			Settle:        0,
			ReadTimeout:   time.Millisecond,
			MaxIdleChecks: 1,
			IdleWaitCold:  0,
			IdleWaitWarm:  0,
		},
	}
}

func TestRunHappyPathDirectReply(t *testing.T) {
	a1 := &fakeAgent{name: "a1", running: true, replies: []string{"Hi there! [COMPLETE]"}}
	dir := newDirectory(a1)

	out := Run(a1, "hello", dir, nil, instantConfig())

	if out.Stopped != StopCompleted {
		t.Fatalf("Stopped = %v, want completed", out.Stopped)
	}
	if out.FinalResult != "Hi there!" {
		t.Fatalf("FinalResult = %q, want %q", out.FinalResult, "Hi there!")
	}
	if out.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", out.Iterations)
	}
	if len(a1.sent) != 1 {
		t.Fatalf("expected exactly one outbound send, got %d", len(a1.sent))
	}
}

func TestRunSingleDelegation(t *testing.T) {
	a1 := &fakeAgent{name: "a1", running: true, replies: []string{
		"I'll ask A2.\n@a2: compute fib(10)",
		"Answer: 55 [COMPLETE]",
	}}
	a2 := &fakeAgent{name: "a2", running: true, replies: []string{"55"}}
	dir := newDirectory(a1, a2)

	out := Run(a1, "compute fib(10)", dir, nil, instantConfig())

	if out.Stopped != StopCompleted {
		t.Fatalf("Stopped = %v, want completed", out.Stopped)
	}
	if out.FinalResult != "Answer: 55" {
		t.Fatalf("FinalResult = %q, want %q", out.FinalResult, "Answer: 55")
	}
	if out.Iterations != 2 {
		t.Fatalf("Iterations = %d, want 2", out.Iterations)
	}
	if len(a1.sent) != 2 || len(a2.sent) != 1 {
		t.Fatalf("send counts = a1:%d a2:%d, want a1:2 a2:1", len(a1.sent), len(a2.sent))
	}
}

func TestRunBudgetExhaustion(t *testing.T) {
	a1 := &fakeAgent{name: "a1", running: true, replies: []string{
		"@a2: ping", "@a2: ping", "@a2: ping", "@a2: ping",
	}}
	a2 := &fakeAgent{name: "a2", running: true, replies: []string{
		"@a1: pong", "@a1: pong", "@a1: pong", "@a1: pong",
	}}
	dir := newDirectory(a1, a2)

	out := Run(a1, "start", dir, nil, Config{LoopBudget: 3, CollectorConfig: instantConfig().CollectorConfig})

	if out.Stopped != StopLoopBudget {
		t.Fatalf("Stopped = %v, want loop budget exceeded", out.Stopped)
	}
	if out.Iterations != 3 {
		t.Fatalf("Iterations = %d, want 3", out.Iterations)
	}
	if len(a1.sent) != 3 {
		t.Fatalf("a1 sends = %d, want 3", len(a1.sent))
	}
}

func TestRunDeadSecondary(t *testing.T) {
	a1 := &fakeAgent{name: "a1", running: true, replies: []string{"@a2: x"}}
	a2 := &fakeAgent{name: "a2", running: false}
	dir := newDirectory(a1, a2)

	out := Run(a1, "go", dir, nil, instantConfig())

	if out.Stopped != StopUnknownAgent {
		t.Fatalf("Stopped = %v, want unknown_agent", out.Stopped)
	}
	if out.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", out.Iterations)
	}
}

func TestRunMarkerAbsentStops(t *testing.T) {
	a1 := &fakeAgent{name: "a1", running: true, replies: []string{"no markers here"}}
	dir := newDirectory(a1)

	out := Run(a1, "go", dir, nil, instantConfig())

	if out.Stopped != StopMarkerAbsent {
		t.Fatalf("Stopped = %v, want marker_absent", out.Stopped)
	}
}
