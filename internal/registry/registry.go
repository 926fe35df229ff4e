// Package registry tracks the set of configured agents, starts and stops
// them, and reports status — the supervisor-of-supervisors that owns no
// PTY state itself, only the map of agents and their names.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/duetctl/duet/internal/ptyagent"
)

// Registry holds agents by name, preserving registration order for
// deterministic iteration (start_all, status reporting).
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*ptyagent.Agent
	ordered []string
	runID   map[string]string
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*ptyagent.Agent),
		runID:  make(map[string]string),
		logger: logger,
	}
}

// Register adds an agent under its descriptor's name. A duplicate name is
// a warning and a no-op — the first registration wins.
func (r *Registry) Register(a *ptyagent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.byName[name]; exists {
		r.logger.Warn("duplicate agent registration ignored", "agent", name)
		return
	}
	r.byName[name] = a
	r.ordered = append(r.ordered, name)
	r.runID[name] = uuid.NewString()
}

// Get returns the named agent, and whether it was found.
func (r *Registry) Get(name string) (*ptyagent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// Names returns registered agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// StartResult records the outcome of starting one agent.
type StartResult struct {
	Name string
	Err  error
}

// StartAll attempts to start every registered agent independently;
// a failure on one does not prevent the others from starting. It returns
// per-agent results in registration order.
func (r *Registry) StartAll() []StartResult {
	names := r.Names()
	results := make([]StartResult, 0, len(names))
	for _, name := range names {
		a, _ := r.Get(name)
		err := a.Start()
		if err != nil {
			r.logger.Warn("agent failed to start", "agent", name, "error", err)
		}
		results = append(results, StartResult{Name: name, Err: err})
	}
	return results
}

// AnyRunning reports whether at least one registered agent is running.
func (r *Registry) AnyRunning() bool {
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		if a.IsRunning() {
			return true
		}
	}
	return false
}

// Primary returns the first registered agent that is currently running,
// per the spec's convention when only one agent is live.
func (r *Registry) Primary() (*ptyagent.Agent, bool) {
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		if a.IsRunning() {
			return a, true
		}
	}
	return nil, false
}

// Status describes one agent's reportable state.
type Status struct {
	Name    string
	Running bool
}

// StatusAll reports the running state of every registered agent, in
// registration order.
func (r *Registry) StatusAll() []Status {
	names := r.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		a, _ := r.Get(name)
		out = append(out, Status{Name: name, Running: a.IsRunning()})
	}
	return out
}

// Shutdown terminates every registered agent.
func (r *Registry) Shutdown() {
	for _, name := range r.Names() {
		a, _ := r.Get(name)
		if err := a.Terminate(); err != nil {
			r.logger.Warn("error terminating agent", "agent", name, "error", err)
		}
	}
}

// HandleSignals installs a SIGINT/SIGTERM handler that calls Shutdown and
// exits the process with status 0. It returns nothing; a caller that
// needs a shutdown path without os.Exit does not call this method.
func (r *Registry) HandleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		r.logger.Info("received signal, shutting down", "signal", sig)
		r.Shutdown()
		os.Exit(0)
	}()
}

// ErrUnknownAgent is returned when a caller references an unregistered
// agent name.
var ErrUnknownAgent = fmt.Errorf("unknown agent")
