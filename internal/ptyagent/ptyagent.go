// Package ptyagent supervises a single interactive CLI process attached to
// a pseudo-terminal: starting it, writing to it, polling its output without
// blocking, probing liveness, and tearing it down.
package ptyagent

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/duetctl/duet/internal/sanitize"
)

// Sentinel errors for the abstract error kinds the orchestration layer
// needs to branch on.
var (
	ErrStartupNotFound = errors.New("agent command not found")
	ErrStartupExit      = errors.New("agent exited during startup")
	ErrSendFailure      = errors.New("agent send failed")
)

// QuirkFlags are per-command capability hints, set on the Descriptor rather
// than switched on inside the implementation by command name.
type QuirkFlags struct {
	// PromptActivated agents need a newline (and a probe command) before
	// they show their first prompt.
	PromptActivated bool

	// NeedsCRAfterLF agents (certain TUI clients) require a trailing
	// carriage return after the newline terminating a sent line.
	NeedsCRAfterLF bool

	// Heartbeat agents idle themselves out or collapse their prompt when
	// left untouched and need a periodic nudge.
	Heartbeat bool
}

// StartupConfig tunes the drain-the-banner dance in Start.
type StartupConfig struct {
	Timeout             time.Duration
	WaitAfterStart      time.Duration
	InitialReadAttempts int
}

// HeartbeatConfig tunes the optional idle nudge.
type HeartbeatConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Descriptor is the immutable configuration of one agent.
type Descriptor struct {
	Name    string
	Command string
	Args    []string

	Startup   StartupConfig
	Heartbeat HeartbeatConfig
	Quirks    QuirkFlags
}

func (d StartupConfig) withDefaults() StartupConfig {
	if d.Timeout <= 0 {
		d.Timeout = 20 * time.Second
	}
	if d.WaitAfterStart <= 0 {
		d.WaitAfterStart = 2 * time.Second
	}
	if d.InitialReadAttempts <= 0 {
		d.InitialReadAttempts = 15
	}
	return d
}

// Agent supervises one running (or not-yet-started) process under a PTY.
// All mutable state is owned exclusively by the Agent; cross-agent state is
// never shared.
type Agent struct {
	desc   Descriptor
	logger *slog.Logger

	// mu guards the fields below except for the actual PTY I/O, which
	// readRaw serializes separately via ioMu so the heartbeat and a
	// foreground read never interleave mid-syscall.
	mu             sync.Mutex
	ptyFile        *os.File
	cmd            *exec.Cmd
	processRunning bool
	ptyClosed      bool
	buffer         []byte

	exitCh  chan struct{}
	exitErr error

	ioMu sync.Mutex

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
}

// New creates an Agent in the registered-but-not-started state.
func New(desc Descriptor, logger *slog.Logger) *Agent {
	desc.Startup = desc.Startup.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		desc:   desc,
		logger: logger.With("agent", desc.Name),
	}
}

// Name returns the agent's registered name.
func (a *Agent) Name() string { return a.desc.Name }

// Descriptor returns the agent's immutable configuration.
func (a *Agent) Descriptor() Descriptor { return a.desc }

// Start forks the child under a PTY, drains its startup banner, and marks
// the agent running. A missing command is reported as ErrStartupNotFound;
// a child that exits during the drain is reported as ErrStartupExit. Both
// are non-fatal to a caller supervising multiple agents.
func (a *Agent) Start() error {
	path, err := exec.LookPath(a.desc.Command)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStartupNotFound, a.desc.Command)
	}

	cmd := exec.Command(path, a.desc.Args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return fmt.Errorf("start pty for %s: %w", a.desc.Name, err)
	}

	a.mu.Lock()
	a.ptyFile = ptmx
	a.cmd = cmd
	a.exitCh = make(chan struct{})
	a.mu.Unlock()

	go a.waitForExit()

	time.Sleep(a.desc.Startup.WaitAfterStart)

	var drained strings.Builder
	for i := 0; i < a.desc.Startup.InitialReadAttempts; i++ {
		chunk := sanitize.Strip(a.readRaw(150 * time.Millisecond))
		drained.WriteString(chunk)
		if chunk == "" {
			time.Sleep(100 * time.Millisecond)
		}
	}

	if exited, code := a.checkExited(); exited {
		a.logger.Warn("agent exited during startup", "exit_code", code)
		return fmt.Errorf("%w: %s exited with code %d, output: %q",
			ErrStartupExit, a.desc.Name, code, drained.String())
	}

	if countPrintable(drained.String()) < 10 || a.desc.Quirks.PromptActivated {
		a.writeRaw("\n")
		time.Sleep(200 * time.Millisecond)
		drained.WriteString(sanitize.Strip(a.readRaw(200 * time.Millisecond)))

		if a.desc.Quirks.PromptActivated {
			a.writeRaw("/status\n")
			time.Sleep(200 * time.Millisecond)
			drained.WriteString(sanitize.Strip(a.readRaw(200 * time.Millisecond)))
		}
	}

	a.mu.Lock()
	a.processRunning = true
	a.mu.Unlock()

	a.logger.Info("agent started")

	if a.desc.Quirks.Heartbeat && a.desc.Heartbeat.Enabled {
		a.startHeartbeat()
	}
	return nil
}

func (a *Agent) waitForExit() {
	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()

	err := cmd.Wait()

	a.mu.Lock()
	a.processRunning = false
	a.exitErr = err
	close(a.exitCh)
	a.mu.Unlock()
}

func (a *Agent) checkExited() (exited bool, code int) {
	a.mu.Lock()
	ch := a.exitCh
	a.mu.Unlock()

	select {
	case <-ch:
	default:
		return false, 0
	}

	a.mu.Lock()
	err := a.exitErr
	a.mu.Unlock()

	if err == nil {
		return true, 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return true, exitErr.ExitCode()
	}
	return true, -1
}

func countPrintable(s string) int {
	n := 0
	for _, r := range s {
		if r > ' ' {
			n++
		}
	}
	return n
}

// Send writes text followed by a newline to the agent's PTY. Commands
// flagged NeedsCRAfterLF additionally send a carriage return shortly after.
// Send refuses with ErrSendFailure if the agent isn't running.
func (a *Agent) Send(text string) error {
	a.mu.Lock()
	running := a.processRunning
	ptmx := a.ptyFile
	crAfterLF := a.desc.Quirks.NeedsCRAfterLF
	a.mu.Unlock()

	if !running || ptmx == nil {
		return fmt.Errorf("%w: %s is not running", ErrSendFailure, a.desc.Name)
	}

	if _, err := ptmx.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}

	if crAfterLF {
		time.Sleep(50 * time.Millisecond)
		ptmx.Write([]byte("\r"))
	}
	return nil
}

// writeRaw is Send's unchecked sibling, used only during Start's banner
// drain before the agent is marked running.
func (a *Agent) writeRaw(s string) {
	a.mu.Lock()
	ptmx := a.ptyFile
	a.mu.Unlock()
	if ptmx != nil {
		ptmx.Write([]byte(s))
	}
}

// Read drains any bytes the heartbeat accumulated out-of-band, then polls
// the PTY master for up to timeout, and returns the combined text after
// escape stripping. It never blocks past the deadline.
func (a *Agent) Read(timeout time.Duration) string {
	a.mu.Lock()
	oob := a.buffer
	a.buffer = nil
	closed := a.ptyClosed
	a.mu.Unlock()

	acc := append([]byte{}, oob...)
	if !closed {
		acc = append(acc, a.readRaw(timeout)...)
	}
	return sanitize.Strip(acc)
}

// ReadRaw is Read without the escape stripping, for a caller (a
// "/screen" command, a terminal mirror) that needs to feed the bytes
// through its own VT100 emulator instead of reading clean text.
func (a *Agent) ReadRaw(timeout time.Duration) []byte {
	a.mu.Lock()
	oob := a.buffer
	a.buffer = nil
	closed := a.ptyClosed
	a.mu.Unlock()

	acc := append([]byte{}, oob...)
	if !closed {
		acc = append(acc, a.readRaw(timeout)...)
	}
	return acc
}

// readRaw is the shared, mutex-serialized PTY read loop used by both
// foreground reads and the heartbeat's opportunistic drain.
func (a *Agent) readRaw(timeout time.Duration) []byte {
	a.mu.Lock()
	ptmx := a.ptyFile
	closed := a.ptyClosed
	a.mu.Unlock()
	if ptmx == nil || closed {
		return nil
	}

	a.ioMu.Lock()
	defer a.ioMu.Unlock()

	var acc []byte
	buf := make([]byte, 4096)
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return acc
		}
		iter := remaining
		if iter > 50*time.Millisecond {
			iter = 50 * time.Millisecond
		}
		ptmx.SetReadDeadline(time.Now().Add(iter))

		n, err := ptmx.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			continue
		}
		if errors.Is(err, io.EOF) || isEIO(err) {
			a.handleReadGone()
			return acc
		}
		a.logger.Debug("pty read error", "error", err)
		return acc
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func isEIO(err error) bool {
	return errors.Is(err, syscall.EIO)
}

// handleReadGone latches pty_closed once the slave side is confirmed gone.
func (a *Agent) handleReadGone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ptyClosed = true
	a.processRunning = false
}

// IsRunning probes child liveness with a no-op signal, the same check
// terminate uses to decide whether escalation to SIGKILL is needed.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	cmd := a.cmd
	running := a.processRunning
	a.mu.Unlock()

	if cmd == nil || cmd.Process == nil || !running {
		return false
	}
	if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
		a.mu.Lock()
		a.processRunning = false
		a.mu.Unlock()
		return false
	}
	return true
}

// PTYClosed reports the monotonic pty_closed latch.
func (a *Agent) PTYClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ptyClosed
}

func (a *Agent) startHeartbeat() {
	interval := a.desc.Heartbeat.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	a.heartbeatStop = stop
	a.heartbeatDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !a.IsRunning() {
					return
				}
				a.writeRaw("\n")
				drained := a.readRaw(200 * time.Millisecond)
				if len(drained) > 0 {
					a.mu.Lock()
					a.buffer = append(a.buffer, drained...)
					a.mu.Unlock()
				}
			}
		}
	}()
}

func (a *Agent) stopHeartbeat() {
	if a.heartbeatStop == nil {
		return
	}
	close(a.heartbeatStop)
	<-a.heartbeatDone
	a.heartbeatStop = nil
	a.heartbeatDone = nil
}

// Terminate stops the heartbeat, sends SIGTERM, escalates to SIGKILL if the
// child is still alive after 2s, and closes the PTY master exactly once.
func (a *Agent) Terminate() error {
	a.stopHeartbeat()

	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && a.IsRunning() {
			time.Sleep(50 * time.Millisecond)
		}
		if a.IsRunning() {
			cmd.Process.Signal(syscall.SIGKILL)
		}
		// waitForExit's goroutine owns the one legal cmd.Wait() call; give
		// it a moment to reap after the kill so processRunning settles.
		for i := 0; i < 20 && a.IsRunning(); i++ {
			time.Sleep(10 * time.Millisecond)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ptyClosed && a.ptyFile != nil {
		a.ptyFile.Close()
	}
	a.ptyClosed = true
	a.processRunning = false
	a.logger.Info("agent terminated")
	return nil
}

// WriteBytes writes raw bytes directly to the PTY master, bypassing the
// line-oriented newline handling Send does for operator/orchestrator
// turns. Used by a remote console attaching a second human's keystrokes
// straight to the underlying terminal.
func (a *Agent) WriteBytes(p []byte) (int, error) {
	a.mu.Lock()
	ptmx := a.ptyFile
	running := a.processRunning
	a.mu.Unlock()

	if !running || ptmx == nil {
		return 0, fmt.Errorf("%w: %s is not running", ErrSendFailure, a.desc.Name)
	}
	return ptmx.Write(p)
}

// Resize changes the PTY window size, for a remote console reporting its
// own terminal dimensions.
func (a *Agent) Resize(rows, cols int) error {
	a.mu.Lock()
	ptmx := a.ptyFile
	a.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("%s is not running", a.desc.Name)
	}
	return pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}
