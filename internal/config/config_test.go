package config

import (
	"os"
	"path/filepath"
	"testing"
)

// withCleanEnv clears the env vars this package reads and restores them
// after the test, the same isolation pattern the original env-override
// tests in this package used.
func withCleanEnv(t *testing.T) {
	t.Helper()
	vars := []string{"DUET_CONFIG", "DUET_DEBUG", "DUET_LOOP_BUDGET", "DUET_NO_HISTORY"}
	saved := make(map[string]string)
	for _, v := range vars {
		saved[v] = os.Getenv(v)
		os.Unsetenv(v)
	}
	t.Cleanup(func() {
		for _, v := range vars {
			if saved[v] != "" {
				os.Setenv(v, saved[v])
			} else {
				os.Unsetenv(v)
			}
		}
	})
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	withCleanEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("Agents = %v, want 2 default agents", cfg.Agents)
	}
	if cfg.Orchestrator.LoopBudget != 10 {
		t.Fatalf("LoopBudget = %d, want 10", cfg.Orchestrator.LoopBudget)
	}
}

func TestLoadEmptyFileFallsBackToDefaults(t *testing.T) {
	withCleanEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("Agents = %v, want defaults", cfg.Agents)
	}
}

func TestLoadMalformedYAMLFallsBackToDefaults(t *testing.T) {
	withCleanEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agents: [this is not: valid: yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("Agents = %v, want defaults", cfg.Agents)
	}
}

func TestLoadMergesPartialFileWithDefaults(t *testing.T) {
	withCleanEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "orchestrator:\n  loop_budget: 5\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.LoopBudget != 5 {
		t.Fatalf("LoopBudget = %d, want 5 from file", cfg.Orchestrator.LoopBudget)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("Agents = %v, want defaults preserved when file omits them", cfg.Agents)
	}
	if len(cfg.Output.Filtering.NoiseKeywords) == 0 {
		t.Fatal("expected default noise keywords to survive the merge")
	}
}

func TestLoadFullFileOverridesAgents(t *testing.T) {
	withCleanEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "agents:\n  - name: codex\n    command: codex\n    enabled: true\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "codex" {
		t.Fatalf("Agents = %v, want a single codex agent from the file", cfg.Agents)
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	withCleanEnv(t)
	os.Setenv("DUET_LOOP_BUDGET", "7")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("orchestrator:\n  loop_budget: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.LoopBudget != 7 {
		t.Fatalf("LoopBudget = %d, want 7 from env override", cfg.Orchestrator.LoopBudget)
	}
}

func TestEnabledAgentsFiltersDisabled(t *testing.T) {
	cfg := &Config{Agents: []AgentConfig{
		{Name: "on", Enabled: true},
		{Name: "off", Enabled: false},
	}}
	got := cfg.EnabledAgents()
	if len(got) != 1 || got[0].Name != "on" {
		t.Fatalf("EnabledAgents() = %v, want [on]", got)
	}
}

func TestPromptFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interface.Prompt["claude-1"] = "claude1> "
	if got := cfg.Prompt("claude-1"); got != "claude1> " {
		t.Fatalf("Prompt(claude-1) = %q, want %q", got, "claude1> ")
	}
	if got := cfg.Prompt("unknown"); got != "> " {
		t.Fatalf("Prompt(unknown) = %q, want %q", got, "> ")
	}
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	withCleanEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Orchestrator.LoopBudget = 42

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Orchestrator.LoopBudget != 42 {
		t.Fatalf("LoopBudget = %d, want 42 after round trip", reloaded.Orchestrator.LoopBudget)
	}
}

func TestDebugAndNoHistoryEnvFlags(t *testing.T) {
	withCleanEnv(t)
	if Debug() {
		t.Fatal("Debug() = true with DUET_DEBUG unset")
	}
	os.Setenv("DUET_DEBUG", "true")
	if !Debug() {
		t.Fatal("Debug() = false with DUET_DEBUG=true")
	}

	os.Setenv("DUET_NO_HISTORY", "1")
	if !NoHistory() {
		t.Fatal("NoHistory() = false with DUET_NO_HISTORY=1")
	}
}
