package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// TailnetConfig configures the embedded Tailscale node a remote console
// listens on.
type TailnetConfig struct {
	// Hostname is this node's tailnet hostname.
	Hostname string

	// ControlURL is the coordination server URL. Empty uses the default
	// (tailscale.com's own control plane).
	ControlURL string

	// AuthKey is the pre-auth key for joining the tailnet headlessly.
	AuthKey string

	// StateDir stores tsnet's persistent state. Defaults to
	// ~/.duet/tsnet/<hostname>.
	StateDir string

	Ephemeral bool
}

// Tailnet wraps a tsnet.Server providing the private network a remote
// console's SSH listener binds to.
type Tailnet struct {
	server *tsnet.Server
	logger *slog.Logger
}

// NewTailnet creates (but does not start) an embedded Tailscale node.
func NewTailnet(cfg TailnetConfig, logger *slog.Logger) (*Tailnet, error) {
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("hostname is required")
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}
		stateDir = filepath.Join(home, ".duet", "tsnet", cfg.Hostname)
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tsnet state directory: %w", err)
	}

	server := &tsnet.Server{
		Hostname:   cfg.Hostname,
		Dir:        stateDir,
		ControlURL: cfg.ControlURL,
		AuthKey:    cfg.AuthKey,
		Ephemeral:  cfg.Ephemeral,
		Logf:       func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
	}

	return &Tailnet{server: server, logger: logger}, nil
}

// Start connects to the tailnet.
func (t *Tailnet) Start(ctx context.Context) error {
	status, err := t.server.Up(ctx)
	if err != nil {
		return fmt.Errorf("connecting to tailnet: %w", err)
	}
	t.logger.Info("remote console joined tailnet",
		"hostname", t.server.Hostname, "tailscale_ips", status.TailscaleIPs)
	return nil
}

// Close disconnects from the tailnet.
func (t *Tailnet) Close() error {
	return t.server.Close()
}

// Listen opens a TCP listener on the tailnet.
func (t *Tailnet) Listen(network, addr string) (net.Listener, error) {
	return t.server.Listen(network, addr)
}

// IPs returns this node's tailnet addresses.
func (t *Tailnet) IPs() []string {
	ip4, ip6 := t.server.TailscaleIPs()
	var out []string
	if ip4.IsValid() {
		out = append(out, ip4.String())
	}
	if ip6.IsValid() {
		out = append(out, ip6.String())
	}
	return out
}
