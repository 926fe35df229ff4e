// Package config loads orchestrator configuration from a YAML file, layers
// environment variable overrides on top, and falls back to sane defaults
// when the file is missing, empty, or fails to parse — mirroring the
// load-and-validate-with-fallback approach the rest of this codebase uses
// for its own config, generalized from JSON to the YAML shape agents are
// configured with.
//
// Environment variables:
//   - DUET_CONFIG: override config file path (for testing)
//   - DUET_DEBUG: "1"/"true" enables verbose diagnostics
//   - DUET_LOOP_BUDGET: overrides orchestrator.loop_budget
//   - DUET_NO_HISTORY: "1"/"true" disables the history collaborator
//   - DUET_REMOTE_AUTHKEY: Tailscale auth key for the "duet remote" console
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is written to new default config files. An older or
// unrecognized version in a loaded file is tolerated — logged, not fatal.
const CurrentVersion = "1.0.0"

// StartupConfig tunes an agent's PTY startup drain.
type StartupConfig struct {
	TimeoutSeconds      float64 `yaml:"timeout"`
	WaitAfterStart      float64 `yaml:"wait_after_start"`
	InitialReadAttempts int     `yaml:"initial_read_attempts"`
}

// ResponseConfig tunes the response collector for an agent.
type ResponseConfig struct {
	TimeoutSeconds    float64 `yaml:"timeout"`
	ReadTimeoutSeconds float64 `yaml:"read_timeout"`
	MaxIdleChecks      int     `yaml:"max_idle_checks"`
	IdleWaitSeconds    float64 `yaml:"idle_wait"`
}

// HeartbeatConfig tunes an agent's idle nudge.
type HeartbeatConfig struct {
	Enabled         bool    `yaml:"enabled"`
	IntervalSeconds float64 `yaml:"interval"`
}

// AgentConfig is one entry in the agents list.
type AgentConfig struct {
	Name      string          `yaml:"name"`
	Command   string          `yaml:"command"`
	Args      []string        `yaml:"args,omitempty"`
	Enabled   bool            `yaml:"enabled"`
	Startup   StartupConfig   `yaml:"startup"`
	Response  ResponseConfig  `yaml:"response"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// OrchestratorConfig holds orchestrator-level tuning and ambient logging.
type OrchestratorConfig struct {
	LoopBudget      int    `yaml:"loop_budget"`
	AutoOrchestrate bool   `yaml:"auto_orchestrate"`
	Logging         struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// HistoryConfig tunes the conversation-history collaborator.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxEntries  int    `yaml:"max_entries"`
	SaveToFile  bool   `yaml:"save_to_file"`
	FilePath    string `yaml:"file_path"`
}

// ConversationConfig groups the history collaborator's settings.
type ConversationConfig struct {
	History HistoryConfig `yaml:"history"`
}

// FilteringConfig holds the Output Sanitizer's configured noise keywords.
type FilteringConfig struct {
	NoiseKeywords []string `yaml:"noise_keywords"`
}

// OutputConfig groups output-shaping settings.
type OutputConfig struct {
	Filtering FilteringConfig `yaml:"filtering"`
}

// InterfaceConfig holds the session driver's per-agent prompt labels.
type InterfaceConfig struct {
	Prompt map[string]string `yaml:"prompt"`
}

// RemoteConfig tunes the optional tailnet-backed SSH console ("duet remote").
type RemoteConfig struct {
	Hostname string `yaml:"hostname"`
	AuthKey  string `yaml:"auth_key"`
}

// Config is the full configuration shape consumed by the core.
type Config struct {
	Version      string             `yaml:"version"`
	Agents       []AgentConfig      `yaml:"agents"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Conversation ConversationConfig `yaml:"conversation"`
	Output       OutputConfig       `yaml:"output"`
	Interface    InterfaceConfig    `yaml:"interface"`
	Remote       RemoteConfig       `yaml:"remote"`
}

// DefaultConfig returns the built-in two-agent configuration used when no
// config file is found, matching the original orchestrator's defaults.
func DefaultConfig() *Config {
	agentDefaults := func(name, command string) AgentConfig {
		return AgentConfig{
			Name:    name,
			Command: command,
			Enabled: true,
			Startup: StartupConfig{
				TimeoutSeconds:      20,
				WaitAfterStart:      2.0,
				InitialReadAttempts: 30,
			},
			Response: ResponseConfig{
				TimeoutSeconds:     45,
				ReadTimeoutSeconds: 3.0,
				MaxIdleChecks:      3,
				IdleWaitSeconds:    2.0,
			},
			Heartbeat: HeartbeatConfig{Enabled: false, IntervalSeconds: 10},
		}
	}

	cfg := &Config{
		Version: CurrentVersion,
		Agents: []AgentConfig{
			agentDefaults("claude-1", "claude"),
			agentDefaults("claude-2", "claude"),
		},
	}
	cfg.Orchestrator.LoopBudget = 10
	cfg.Orchestrator.AutoOrchestrate = true
	cfg.Orchestrator.Logging.Level = "INFO"
	cfg.Orchestrator.Logging.File = "orchestrator.log"

	cfg.Conversation.History = HistoryConfig{
		Enabled:    true,
		MaxEntries: 1000,
		SaveToFile: true,
		FilePath:   "conversations/history.json",
	}

	cfg.Output.Filtering.NoiseKeywords = []string{
		"? for shortcuts",
		"thinking on",
		"approaching weekly limit",
	}

	cfg.Interface.Prompt = map[string]string{"default": "> "}

	cfg.Remote.Hostname = "duet"

	return cfg
}

// Load reads path, falling back to DefaultConfig when the file is absent,
// empty, or fails to parse, then layers environment variable overrides on
// top. Load never returns a non-nil error: a file that is missing,
// unreadable for any other reason (e.g. a permissions error), empty, or
// malformed yields the defaults, matching the original's tolerant load().
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("DUET_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	if loaded.Version != "" && loaded.Version != CurrentVersion {
		slog.Warn("unrecognized config version, loading anyway", "version", loaded.Version, "path", path)
	}

	merged := mergeWithDefaults(cfg, &loaded)

	// A plain bool can't tell an omitted auto_orchestrate from an explicit
	// false; re-read it as a pointer so a file that sets it always wins.
	var explicit struct {
		Orchestrator struct {
			AutoOrchestrate *bool `yaml:"auto_orchestrate"`
		} `yaml:"orchestrator"`
	}
	if yaml.Unmarshal(data, &explicit) == nil && explicit.Orchestrator.AutoOrchestrate != nil {
		merged.Orchestrator.AutoOrchestrate = *explicit.Orchestrator.AutoOrchestrate
	}

	applyEnvOverrides(merged)
	return merged, nil
}

// mergeWithDefaults fills anything the loaded file omitted from cfg
// (the defaults), mirroring config_loader.py's _merge_with_defaults: the
// loaded file wins wherever it sets a value. Lists and maps (agents, noise
// keywords, prompts) replace the defaults as a whole. The
// conversation.history section is also taken from the file as a whole,
// and only when it sets a positive max_entries; otherwise the file's
// history settings are ignored. auto_orchestrate is ORed here; Load then
// applies an explicit value from the file.
func mergeWithDefaults(defaults, loaded *Config) *Config {
	merged := *defaults

	if loaded.Version != "" {
		merged.Version = loaded.Version
	}
	if len(loaded.Agents) > 0 {
		merged.Agents = loaded.Agents
	}
	if loaded.Orchestrator.LoopBudget > 0 {
		merged.Orchestrator.LoopBudget = loaded.Orchestrator.LoopBudget
	}
	if loaded.Orchestrator.Logging.Level != "" {
		merged.Orchestrator.Logging.Level = loaded.Orchestrator.Logging.Level
	}
	if loaded.Orchestrator.Logging.File != "" {
		merged.Orchestrator.Logging.File = loaded.Orchestrator.Logging.File
	}
	merged.Orchestrator.AutoOrchestrate = loaded.Orchestrator.AutoOrchestrate || defaults.Orchestrator.AutoOrchestrate

	if loaded.Conversation.History.MaxEntries > 0 {
		merged.Conversation.History = loaded.Conversation.History
	}
	if len(loaded.Output.Filtering.NoiseKeywords) > 0 {
		merged.Output.Filtering.NoiseKeywords = loaded.Output.Filtering.NoiseKeywords
	}
	if len(loaded.Interface.Prompt) > 0 {
		merged.Interface.Prompt = loaded.Interface.Prompt
	}
	if loaded.Remote.Hostname != "" {
		merged.Remote.Hostname = loaded.Remote.Hostname
	}
	if loaded.Remote.AuthKey != "" {
		merged.Remote.AuthKey = loaded.Remote.AuthKey
	}

	return &merged
}

func applyEnvOverrides(cfg *Config) {
	if budget := os.Getenv("DUET_LOOP_BUDGET"); budget != "" {
		if v, err := strconv.Atoi(budget); err == nil {
			cfg.Orchestrator.LoopBudget = v
		}
	}
	if authKey := os.Getenv("DUET_REMOTE_AUTHKEY"); authKey != "" {
		cfg.Remote.AuthKey = authKey
	}
}

// Debug reports whether DUET_DEBUG requests verbose diagnostics.
func Debug() bool {
	return truthy(os.Getenv("DUET_DEBUG"))
}

// NoHistory reports whether DUET_NO_HISTORY disables the history
// collaborator.
func NoHistory() bool {
	return truthy(os.Getenv("DUET_NO_HISTORY"))
}

func truthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}

// EnabledAgents returns only the agents with Enabled set.
func (c *Config) EnabledAgents() []AgentConfig {
	var out []AgentConfig
	for _, a := range c.Agents {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// AgentByName returns the named agent's config, if present.
func (c *Config) AgentByName(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// Prompt returns the configured prompt label for an agent, falling back
// to interface.prompt.default, then a bare "> ".
func (c *Config) Prompt(agentName string) string {
	if p, ok := c.Interface.Prompt[agentName]; ok {
		return p
	}
	if p, ok := c.Interface.Prompt["default"]; ok {
		return p
	}
	return "> "
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
