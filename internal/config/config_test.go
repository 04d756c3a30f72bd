package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ExecutionMode() != "restricted" {
		t.Errorf("mode = %q, want restricted default", cfg.ExecutionMode())
	}
	if cfg.Sandbox.Grace() != 3*time.Second {
		t.Errorf("grace = %v, want 3s default", cfg.Sandbox.Grace())
	}
	if cfg.Sandbox.MaxOutputBytes() != 1<<20 {
		t.Errorf("output cap = %d, want 1MB default", cfg.Sandbox.MaxOutputBytes())
	}
	if cfg.Sandbox.PermittedTree == "" {
		t.Error("permitted tree not defaulted to the working directory")
	}
	if cfg.HistoryPath() == "" {
		t.Error("history should default to enabled")
	}
	if cfg.Models.LargeModel() == "" || cfg.Models.SmallModel() == "" {
		t.Error("model tiers missing defaults")
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
mode: unrestricted
sandbox:
  grace_period: 10s
  denylist: [curl, wget]
  max_output_kb: 64
models:
  large: big
  small: tiny
history:
  disabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ExecutionMode() != "unrestricted" {
		t.Errorf("mode = %q", cfg.ExecutionMode())
	}
	if cfg.Sandbox.Grace() != 10*time.Second {
		t.Errorf("grace = %v, want 10s", cfg.Sandbox.Grace())
	}
	if len(cfg.Sandbox.Denylist) != 2 {
		t.Errorf("denylist = %v", cfg.Sandbox.Denylist)
	}
	if cfg.Sandbox.MaxOutputBytes() != 64*1024 {
		t.Errorf("output cap = %d, want 64KB", cfg.Sandbox.MaxOutputBytes())
	}
	if cfg.HistoryPath() != "" {
		t.Error("history path should be empty when disabled")
	}
	if cfg.Models.LargeModel() != "big" || cfg.Models.SmallModel() != "tiny" {
		t.Errorf("models = %q/%q", cfg.Models.LargeModel(), cfg.Models.SmallModel())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KAMANDA_MODE", "unrestricted")
	t.Setenv("KAMANDA_API_KEY", "sk-test")
	t.Setenv("KAMANDA_DATA_DIR", t.TempDir())

	cfg, err := Load(writeConfig(t, "mode: restricted"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ExecutionMode() != "unrestricted" {
		t.Errorf("env override ignored: mode = %q", cfg.ExecutionMode())
	}
	if cfg.Models.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Models.APIKey)
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	if _, err := Load(writeConfig(t, "mode: yolo")); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestLoad_InvalidGracePeriod(t *testing.T) {
	if _, err := Load(writeConfig(t, "sandbox:\n  grace_period: soon")); err == nil {
		t.Fatal("expected error for invalid grace period")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	cfg := &Config{}
	prompt, err := cfg.LoadSystemPrompt()
	if err != nil || prompt == "" {
		t.Fatalf("default system prompt: %q, %v", prompt, err)
	}

	file := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(file, []byte("custom prompt"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Prompt.SystemPromptFile = file
	prompt, err = cfg.LoadSystemPrompt()
	if err != nil || prompt != "custom prompt" {
		t.Fatalf("custom system prompt: %q, %v", prompt, err)
	}
}

func TestLoadInstructions_EmptyWhenUnset(t *testing.T) {
	cfg := &Config{}
	got, err := cfg.LoadInstructions()
	if err != nil || got != "" {
		t.Fatalf("instructions = %q, %v", got, err)
	}
}
