package remote

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/atotto/clipboard"

	"github.com/duetctl/duet/internal/qr"
)

// Console ties together a tailnet identity, an SSH listener exposing
// registered agents, and a pairing code shown to the operator. The SSH
// listener has no authentication handler and does not ask for the code.
type Console struct {
	tailnet *Tailnet
	ssh     *SSHServer
	dir     Directory
	logger  *slog.Logger

	pairingCode string
}

// NewConsole wires a tailnet and an SSH server for dir's agents.
func NewConsole(tailnetCfg TailnetConfig, dir Directory, logger *slog.Logger) (*Console, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tn, err := NewTailnet(tailnetCfg, logger)
	if err != nil {
		return nil, err
	}
	return &Console{tailnet: tn, dir: dir, logger: logger, pairingCode: newPairingCode()}, nil
}

func newPairingCode() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Start joins the tailnet and begins serving SSH connections on port 22
// within it, blocking until ctx is cancelled.
func (c *Console) Start(ctx context.Context) error {
	if err := c.tailnet.Start(ctx); err != nil {
		return err
	}
	listener, err := c.tailnet.Listen("tcp", ":22")
	if err != nil {
		return fmt.Errorf("listening on tailnet: %w", err)
	}
	c.ssh = NewSSHServer(listener, c.dir, c.logger)
	return c.ssh.Serve(ctx)
}

// Close tears down the SSH listener and the tailnet connection.
func (c *Console) Close() error {
	if c.ssh != nil {
		c.ssh.Close()
	}
	return c.tailnet.Close()
}

// PairingCode is the random 12-hex-digit code displayed alongside the QR
// code. Nothing in the console verifies it.
func (c *Console) PairingCode() string {
	return c.pairingCode
}

// PrintPairingQR renders the pairing URL as a terminal QR code and
// copies the URL to the local clipboard for the operator to share.
func (c *Console) PrintPairingQR(pairingURL string) []string {
	clipboard.WriteAll(pairingURL)
	return qr.GeneratePairingLines(pairingURL)
}
