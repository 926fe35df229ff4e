package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gliderlabs/ssh"
)

// AttachableAgent is the subset of ptyagent.Agent a remote console session
// drives: read a burst of output, write keystrokes, and resize the window.
type AttachableAgent interface {
	Name() string
	Read(timeout time.Duration) string
	WriteBytes(p []byte) (int, error)
	Resize(rows, cols int) error
	IsRunning() bool
}

// Directory resolves attachable agents by name and lists every name, for
// the SSH server's "no agent given" listing.
type Directory interface {
	Get(name string) (AttachableAgent, bool)
	Names() []string
}

// SSHServer exposes every registered agent's PTY to a human connecting
// over the tailnet via "ssh agent-<name>@<tailnet-hostname>".
type SSHServer struct {
	listener net.Listener
	dir      Directory
	logger   *slog.Logger
}

// NewSSHServer wraps listener with an SSH server backed by dir.
func NewSSHServer(listener net.Listener, dir Directory, logger *slog.Logger) *SSHServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSHServer{listener: listener, dir: dir, logger: logger}
}

// Serve accepts connections until ctx is cancelled.
func (s *SSHServer) Serve(ctx context.Context) error {
	server := &ssh.Server{
		Handler: s.handleSession,
		PtyCallback: func(ctx ssh.Context, pty ssh.Pty) bool {
			return true
		},
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("remote console SSH listener started", "addr", s.listener.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.Error("accept error", "error", err)
				continue
			}
		}
		go server.HandleConn(conn)
	}
}

func (s *SSHServer) handleSession(session ssh.Session) {
	user := session.User()
	s.logger.Info("remote console session started", "user", user)
	defer s.logger.Info("remote console session ended", "user", user)

	agentName := strings.TrimPrefix(user, "agent-")
	if agentName == user {
		agentName = ""
	}

	if agentName == "" {
		names := s.dir.Names()
		if len(names) == 0 {
			fmt.Fprintln(session, "no agents registered")
			session.Exit(0)
			return
		}
		fmt.Fprintln(session, "registered agents:")
		for _, n := range names {
			fmt.Fprintf(session, "  ssh agent-%s@<tailnet-host>\n", n)
		}
		session.Exit(0)
		return
	}

	agent, ok := s.dir.Get(agentName)
	if !ok {
		fmt.Fprintf(session, "agent %q not found\n", agentName)
		session.Exit(1)
		return
	}

	_, winCh, _ := session.Pty()
	go func() {
		for win := range winCh {
			if err := agent.Resize(win.Height, win.Width); err != nil {
				s.logger.Warn("resize failed", "agent", agentName, "error", err)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-session.Context().Done():
				return
			default:
			}
			chunk := agent.Read(200 * time.Millisecond)
			if chunk != "" {
				if _, err := io.WriteString(session, chunk); err != nil {
					return
				}
			}
			if !agent.IsRunning() {
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := session.Read(buf)
		if n > 0 {
			agent.WriteBytes(buf[:n])
		}
		if err != nil {
			break
		}
	}
	<-done
}

// Close shuts down the listener.
func (s *SSHServer) Close() error {
	return s.listener.Close()
}
