// Command duet supervises two or more interactive CLI agents in PTYs and
// lets the first one delegate subtasks to the rest via an in-band marker
// protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/duetctl/duet/internal/commands"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/dashboard"
	"github.com/duetctl/duet/internal/history"
	"github.com/duetctl/duet/internal/relay"
	"github.com/duetctl/duet/internal/remote"
	"github.com/duetctl/duet/internal/session"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			// Restore terminal state in case we crashed mid-drive.
			fmt.Print("\033[?1049l") // exit alt screen
			fmt.Print("\033[?25h")   // show cursor
			fmt.Print("\033[0m")     // reset colors

			fmt.Fprintf(os.Stderr, "\n\nPANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := &cobra.Command{
		Use:     "duet",
		Short:   "Supervise two or more interactive CLI agents that delegate to each other",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("config", "", "configuration file path")
	rootCmd.PersistentFlags().Bool("debug", false, "enable verbose diagnostics")
	rootCmd.PersistentFlags().Bool("no-history", false, "disable the conversation history collaborator")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start all configured agents and drive an operator session",
		RunE:  runRun,
	}
	runCmd.Flags().String("observe-addr", "", "if set, serve a websocket broadcast of sanitized turns on this address (e.g. :4280)")
	rootCmd.AddCommand(runCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the configuration file",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a configuration value (dot path, e.g. orchestrator.loop_budget)",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value and save the file",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	})
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "dashboard",
		Short: "Start all configured agents and show a live status table",
		RunE:  runDashboard,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "remote",
		Short: "Start all configured agents and expose them over a private Tailscale SSH console",
		RunE:  runRemote,
	})

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Get, set, or delete a dot-path value in a JSON file (e.g. the history log)",
	}
	inspectCmd.AddCommand(&cobra.Command{
		Use:   "get <file> <key>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := commands.JSONGet(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	})
	inspectCmd.AddCommand(&cobra.Command{
		Use:   "set <file> <key> <value>",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.JSONSet(args[0], args[1], args[2])
		},
	})
	inspectCmd.AddCommand(&cobra.Command{
		Use:   "delete <file> <key>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.JSONDelete(args[0], args[1])
		},
	})
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func setUpLogging(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, *os.File, error) {
	debug, _ := cmd.Flags().GetBool("debug")

	logPath := cfg.Orchestrator.Logging.File
	if logPath == "" {
		logPath = "duet.log"
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, nil, fmt.Errorf("creating log file: %w", err)
	}

	level := slog.LevelInfo
	if debug || config.Debug() {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, logFile, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, logFile, err := setUpLogging(cmd, cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	noHistory, _ := cmd.Flags().GetBool("no-history")
	var hist *history.Store
	if noHistory || config.NoHistory() || !cfg.Conversation.History.Enabled {
		hist = history.New("", 0, false)
	} else {
		loaded, err := history.Load(
			cfg.Conversation.History.FilePath,
			cfg.Conversation.History.MaxEntries,
			cfg.Conversation.History.SaveToFile,
		)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		hist = loaded
	}

	driver := session.New(cfg, hist, logger, os.Stdout)

	observeAddr, _ := cmd.Flags().GetString("observe-addr")
	if observeAddr != "" {
		hub := relay.NewHub(logger)
		driver.SetRelayHub(hub)

		observeServer := &http.Server{Addr: observeAddr, Handler: hub}
		go func() {
			if err := observeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("observer server stopped", "error", err)
			}
		}()
		defer observeServer.Close()
		fmt.Fprintf(os.Stdout, "observing turns over websocket at ws://%s\n", observeAddr)
	}

	results := driver.StartAgents()
	started := 0
	for _, r := range results {
		if r.Err != nil {
			logger.Error("agent failed to start", "agent", r.Name, "error", r.Err)
			fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", r.Name, r.Err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no agent started")
	}

	driver.HandleSignals()
	driver.StartMonitor()
	defer driver.Shutdown()

	driver.Run(os.Stdin)
	return nil
}

// statusAdapter turns session.Driver.Statuses into dashboard.StatusSource
// without the dashboard package importing session or registry.
type statusAdapter struct{ driver *session.Driver }

func (s statusAdapter) StatusAll() []dashboard.AgentStatus {
	statuses := s.driver.Statuses()
	out := make([]dashboard.AgentStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, dashboard.AgentStatus{Name: st.Name, Running: st.Running})
	}
	return out
}

func startConfiguredAgents(cmd *cobra.Command) (*session.Driver, *slog.Logger, *os.File, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, logFile, err := setUpLogging(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	hist := history.New("", 0, false)
	driver := session.New(cfg, hist, logger, os.Stdout)

	results := driver.StartAgents()
	started := 0
	for _, r := range results {
		if r.Err != nil {
			logger.Error("agent failed to start", "agent", r.Name, "error", r.Err)
			fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", r.Name, r.Err)
			continue
		}
		started++
	}
	if started == 0 {
		logFile.Close()
		return nil, nil, nil, fmt.Errorf("no agent started")
	}
	return driver, logger, logFile, nil
}

func runDashboard(cmd *cobra.Command, args []string) error {
	driver, _, logFile, err := startConfiguredAgents(cmd)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer driver.Shutdown()

	driver.StartMonitor()

	dash, err := dashboard.New(statusAdapter{driver})
	if err != nil {
		return fmt.Errorf("starting dashboard: %w", err)
	}
	dash.Run()
	return nil
}

// agentDirectory adapts session.Driver to remote.Directory; *ptyagent.Agent
// already structurally satisfies remote.AttachableAgent.
type agentDirectory struct{ driver *session.Driver }

func (a agentDirectory) Get(name string) (remote.AttachableAgent, bool) {
	agent, ok := a.driver.Agent(name)
	if !ok {
		return nil, false
	}
	return agent, true
}

func (a agentDirectory) Names() []string { return a.driver.AgentNames() }

func runRemote(cmd *cobra.Command, args []string) error {
	driver, logger, logFile, err := startConfiguredAgents(cmd)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer driver.Shutdown()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	driver.StartMonitor()

	console, err := remote.NewConsole(remote.TailnetConfig{
		Hostname:  cfg.Remote.Hostname,
		AuthKey:   cfg.Remote.AuthKey,
		Ephemeral: true,
	}, agentDirectory{driver}, logger)
	if err != nil {
		return fmt.Errorf("starting remote console: %w", err)
	}
	defer console.Close()

	for _, line := range console.PrintPairingQR(fmt.Sprintf("https://%s/", cfg.Remote.Hostname)) {
		fmt.Println(line)
	}
	fmt.Printf("pairing code: %s\n", console.PairingCode())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- console.Start(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	switch args[0] {
	case "orchestrator.loop_budget":
		fmt.Println(cfg.Orchestrator.LoopBudget)
	case "orchestrator.auto_orchestrate":
		fmt.Println(cfg.Orchestrator.AutoOrchestrate)
	default:
		return fmt.Errorf("unknown key: %s", args[0])
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	switch args[0] {
	case "orchestrator.loop_budget":
		var budget int
		if _, err := fmt.Sscanf(args[1], "%d", &budget); err != nil {
			return fmt.Errorf("invalid loop_budget %q: %w", args[1], err)
		}
		cfg.Orchestrator.LoopBudget = budget
	case "orchestrator.auto_orchestrate":
		cfg.Orchestrator.AutoOrchestrate = args[1] == "true"
	default:
		return fmt.Errorf("unknown key: %s", args[0])
	}
	if path == "" {
		path = "config.yaml"
	}
	return cfg.Save(path)
}
