// Package config handles loading and validating Kamanda configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Kamanda. It is read once at
// session start and treated as an immutable snapshot thereafter.
type Config struct {
	Mode     string `json:"mode,omitempty" yaml:"mode,omitempty"`           // "restricted" (default) or "unrestricted". Override: KAMANDA_MODE.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"` // "debug", "info" (default), "warn", "error".
	DataDir  string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.kamanda. Override: KAMANDA_DATA_DIR.

	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"` // nil = enabled at the default path
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Models        ModelsConfig         `json:"models" yaml:"models"`
	Prompt        PromptConfig         `json:"prompt" yaml:"prompt"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = tracing disabled
}

// ExecutionMode returns the configured mode name, defaulting to
// restricted.
func (c *Config) ExecutionMode() string {
	if c.Mode == "" {
		return "restricted"
	}
	return c.Mode
}

// HistoryPath returns the history database path, or empty when history
// persistence is disabled.
func (c *Config) HistoryPath() string {
	if c.History != nil {
		if c.History.Disabled {
			return ""
		}
		if c.History.Path != "" {
			return c.History.Path
		}
	}
	return filepath.Join(c.DataDir, "history.db")
}

// HistoryConfig configures command-history persistence.
type HistoryConfig struct {
	Disabled bool   `json:"disabled" yaml:"disabled"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/history.db
}

// SandboxConfig is the policy table for restricted execution and process
// supervision.
type SandboxConfig struct {
	Shell         string   `json:"shell,omitempty" yaml:"shell,omitempty"`                   // Interpreter path. Default: /bin/bash.
	GracePeriod   string   `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`     // Duration string. Default: 3s.
	PermittedTree string   `json:"permitted_tree,omitempty" yaml:"permitted_tree,omitempty"` // cd boundary. Default: startup working directory.
	PermittedDirs []string `json:"permitted_dirs,omitempty" yaml:"permitted_dirs,omitempty"` // Explicit executable path roots.
	Denylist      []string `json:"denylist,omitempty" yaml:"denylist,omitempty"`             // Extra denied command names.
	EnvAllowlist  []string `json:"env_allowlist,omitempty" yaml:"env_allowlist,omitempty"`   // Variables assignable/carried in restricted mode.
	MaxOutputKB   int      `json:"max_output_kb,omitempty" yaml:"max_output_kb,omitempty"`   // Relay output cap. Default: 1024.
}

// Grace returns the cancellation grace period, defaulting to 3s.
func (s SandboxConfig) Grace() time.Duration {
	if s.GracePeriod == "" {
		return 3 * time.Second
	}
	d, err := time.ParseDuration(s.GracePeriod)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

// MaxOutputBytes returns the relay output cap, defaulting to 1 MB.
func (s SandboxConfig) MaxOutputBytes() int {
	if s.MaxOutputKB <= 0 {
		return 1 << 20
	}
	return s.MaxOutputKB * 1024
}

// ModelsConfig configures the AI backend used for natural-language
// requests.
type ModelsConfig struct {
	Provider  string `json:"provider,omitempty" yaml:"provider,omitempty"`     // "openai" (default) or any OpenAI-compatible endpoint.
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`     // Override: KAMANDA_BASE_URL.
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`       // Override: KAMANDA_API_KEY. Prefer the env var.
	Large     string `json:"large,omitempty" yaml:"large,omitempty"`           // Large-tier model. Default: gpt-4o.
	Small     string `json:"small,omitempty" yaml:"small,omitempty"`           // Small-tier model. Default: gpt-4o-mini.
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"` // Default: 1024.
}

// LargeModel returns the large-tier model name with its default.
func (m ModelsConfig) LargeModel() string {
	if m.Large == "" {
		return "gpt-4o"
	}
	return m.Large
}

// SmallModel returns the small-tier model name with its default.
func (m ModelsConfig) SmallModel() string {
	if m.Small == "" {
		return "gpt-4o-mini"
	}
	return m.Small
}

// CompletionTokens returns the per-request token cap with its default.
func (m ModelsConfig) CompletionTokens() int {
	if m.MaxTokens <= 0 {
		return 1024
	}
	return m.MaxTokens
}

// PromptConfig points at the prompt files folded into AI requests.
type PromptConfig struct {
	SystemPromptFile string `json:"system_prompt_file,omitempty" yaml:"system_prompt_file,omitempty"`
	InstructionsFile string `json:"instructions_file,omitempty" yaml:"instructions_file,omitempty"`
}

// ObservabilityConfig configures tracing. When nil, disabled with zero
// overhead.
type ObservabilityConfig struct {
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"` // "grpc" (default) or "http".
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	ServiceName string  `json:"service_name,omitempty" yaml:"service_name,omitempty"`
}

// Load reads the configuration file at path (optional: empty path or a
// missing default file yields defaults) and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	explicit := path != ""
	if path == "" {
		path = defaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine: defaults apply.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kamanda.yaml"
	}
	return filepath.Join(home, ".kamanda", "config.yaml")
}

func (c *Config) applyEnv() {
	c.Mode = goutils.Env("KAMANDA_MODE", c.Mode)
	c.DataDir = goutils.Env("KAMANDA_DATA_DIR", c.DataDir)
	c.LogLevel = goutils.Env("KAMANDA_LOG_LEVEL", c.LogLevel)
	c.Models.APIKey = goutils.Env("KAMANDA_API_KEY", c.Models.APIKey)
	c.Models.BaseURL = goutils.Env("KAMANDA_BASE_URL", c.Models.BaseURL)
}

func (c *Config) applyDefaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".kamanda")
	}
	if c.Sandbox.PermittedTree == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		c.Sandbox.PermittedTree = cwd
	}
	return nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.ExecutionMode()) {
	case "restricted", "unrestricted":
	default:
		return fmt.Errorf("invalid mode %q: must be restricted or unrestricted", c.Mode)
	}
	if c.Sandbox.GracePeriod != "" {
		if _, err := time.ParseDuration(c.Sandbox.GracePeriod); err != nil {
			return fmt.Errorf("invalid sandbox.grace_period %q: %w", c.Sandbox.GracePeriod, err)
		}
	}
	return nil
}

// LoadSystemPrompt returns the system prompt: the configured file when
// set, the built-in prompt otherwise.
func (c *Config) LoadSystemPrompt() (string, error) {
	if c.Prompt.SystemPromptFile == "" {
		return defaultSystemPrompt, nil
	}
	data, err := os.ReadFile(c.Prompt.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("reading system prompt file: %w", err)
	}
	return string(data), nil
}

// LoadInstructions returns the custom instructions, empty when no file
// is configured.
func (c *Config) LoadInstructions() (string, error) {
	if c.Prompt.InstructionsFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Prompt.InstructionsFile)
	if err != nil {
		return "", fmt.Errorf("reading instructions file: %w", err)
	}
	return string(data), nil
}

const defaultSystemPrompt = `You are Kamanda, an AI assistant embedded in a Unix command shell.
The user describes a task in natural language; you answer with a short
explanation of what you will do, then the exact command on its own final
line in the form:

COMMAND: <the shell command>

Emit exactly one COMMAND line. Prefer simple, read-only commands, never
destructive ones unless the user asked for them explicitly, and never use
interactive programs that require a terminal of their own.`
