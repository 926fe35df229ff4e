// Package orchestrator routes turns between agents according to the
// in-band markers they emit, enforcing a loop budget per top-level
// operator input. It is the distributed dialogue scheduler the rest of
// the core exists to serve.
package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/duetctl/duet/internal/collector"
	"github.com/duetctl/duet/internal/marker"
	"github.com/duetctl/duet/internal/ptyagent"
	"github.com/duetctl/duet/internal/sanitize"
)

// Agent is the subset of ptyagent.Agent the loop drives directly.
type Agent interface {
	Name() string
	Send(text string) error
	Read(timeout time.Duration) string
	IsRunning() bool
}

// Directory resolves registered agents by name and lists every registered
// name, so the marker parser knows which "@name:" tokens are real
// delegation targets versus incidental "@" text in a reply.
type Directory interface {
	Get(name string) (Agent, bool)
	Names() []string
}

// EmitFunc is called with every sanitized reply as it's produced, so the
// session driver can stream it to the operator and to the conversation
// history collaborator.
type EmitFunc func(agentName, text string)

const systemPreamble = "You may delegate a subtask to another agent with " +
	"a line of the form \"@agent-name: task\". When you are finished, end " +
	"your reply with [COMPLETE] (or [DONE]) followed by the final result."

// Config parameterizes one run of the loop.
type Config struct {
	// LoopBudget caps loop iterations per top-level operator input. Each
	// iteration sends once to the current agent and, when the reply
	// delegates, once more to the delegation target.
	LoopBudget int

	// AutoOrchestrate prepends the system preamble to the initial text.
	AutoOrchestrate bool

	CollectorConfig collector.Config
	Filter          *sanitize.Filter

	Emit EmitFunc
}

func (c Config) withDefaults() Config {
	if c.LoopBudget <= 0 {
		c.LoopBudget = 10
	}
	if c.Filter == nil {
		c.Filter = sanitize.NewFilter(nil)
	}
	if c.Emit == nil {
		c.Emit = func(string, string) {}
	}
	return c
}

// Outcome reports how a run ended.
type Outcome struct {
	FinalResult string
	Iterations  int
	Stopped     StopReason
}

// StopReason names why the loop stopped.
type StopReason string

const (
	StopCompleted    StopReason = "completed"
	StopUnknownAgent StopReason = "unknown_agent"
	StopMarkerAbsent StopReason = "marker_absent"
	StopLoopBudget   StopReason = "loop_budget_exceeded"
	StopSendFailure  StopReason = "send_failure"
)

// Run drives the orchestration loop: send T to primary P, collect and
// parse replies, route delegations, and stop on completion, an
// unavailable delegation target, a reply with neither marker, or loop
// budget exhaustion.
func Run(primary Agent, text string, dir Directory, logger *slog.Logger, cfg Config) Outcome {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	current := primary
	outbound := text
	if cfg.AutoOrchestrate {
		outbound = systemPreamble + "\n\n" + outbound
	}

	for i := 1; i <= cfg.LoopBudget; i++ {
		if err := current.Send(outbound); err != nil {
			logger.Warn("send failed", "agent", current.Name(), "error", err)
			return Outcome{Iterations: i, Stopped: StopSendFailure}
		}

		raw := collector.Collect(readerOf(current), cfg.CollectorConfig)
		reply := cfg.Filter.Clean([]byte(raw))
		cfg.Emit(current.Name(), reply)

		result := marker.Parse(reply, dir.Names(), current.Name())

		switch {
		case result.Completion != nil:
			return Outcome{FinalResult: result.Completion.FinalResult, Iterations: i, Stopped: StopCompleted}

		case result.Delegation != nil:
			target, ok := dir.Get(result.Delegation.Target)
			if !ok || !target.IsRunning() {
				logger.Warn("delegation target unavailable", "agent", result.Delegation.Target)
				return Outcome{FinalResult: reply, Iterations: i, Stopped: StopUnknownAgent}
			}

			if err := target.Send(result.Delegation.Task); err != nil {
				logger.Warn("send to delegate failed", "agent", target.Name(), "error", err)
				return Outcome{Iterations: i, Stopped: StopSendFailure}
			}
			subRaw := collector.Collect(readerOf(target), cfg.CollectorConfig)
			subReply := cfg.Filter.Clean([]byte(subRaw))
			cfg.Emit(target.Name(), subReply)

			outbound = fmt.Sprintf("Response from %s:\n\n%s\n\nPlease continue.", target.Name(), subReply)
			current = primary

		default:
			logger.Warn("reply had no routing or completion marker", "agent", current.Name())
			return Outcome{FinalResult: reply, Iterations: i, Stopped: StopMarkerAbsent}
		}
	}

	logger.Warn("loop budget exhausted", "budget", cfg.LoopBudget)
	return Outcome{Iterations: cfg.LoopBudget, Stopped: StopLoopBudget}
}

func readerOf(a Agent) collector.Reader {
	return readerAdapter{a}
}

type readerAdapter struct{ a Agent }

func (r readerAdapter) Read(timeout time.Duration) string { return r.a.Read(timeout) }
