package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jkaninda/kamanda/internal/complete"
	"github.com/jkaninda/kamanda/internal/config"
	"github.com/jkaninda/kamanda/internal/history"
	"github.com/jkaninda/kamanda/internal/interrupt"
	"github.com/jkaninda/kamanda/internal/llm"
	"github.com/jkaninda/kamanda/internal/llm/openai"
	"github.com/jkaninda/kamanda/internal/observability"
	"github.com/jkaninda/kamanda/internal/policy"
	"github.com/jkaninda/kamanda/internal/supervisor"
)

var (
	flagConfigPath   string
	flagUnrestricted bool
	flagSystemPrompt string
	flagInstructions string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "path to config file (default ~/.kamanda/config.yaml)")
	pf.BoolVar(&flagUnrestricted, "unrestricted", false, "start in unrestricted mode (no sandbox inspection)")
	pf.StringVar(&flagSystemPrompt, "system-prompt", "", "path to a system prompt file for the AI backend")
	pf.StringVar(&flagInstructions, "instructions", "", "path to an instructions file appended to AI requests")
}

// components aggregates everything both the interactive shell and the
// one-shot exec command need, built once and torn down in reverse order.
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	obs       *observability.Observability
	provider  llm.Provider
	store     *history.Store
	policy    *policy.Policy
	coord     *interrupt.Coordinator
	runner    *supervisor.Supervisor
	completer *complete.Engine
	mode      policy.Mode
	cwd       string

	// onTerminate is filled in once the session exists so that a
	// Terminate delivery can reach its shutdown path.
	onTerminate func()
}

func buildComponents() (*components, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, err
	}
	if flagSystemPrompt != "" {
		cfg.Prompt.SystemPromptFile = flagSystemPrompt
	}
	if flagInstructions != "" {
		cfg.Prompt.InstructionsFile = flagInstructions
	}

	logger := observability.NewLogger(cfg.LogLevel)

	obs, err := observability.New(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("observability setup: %w", err)
	}

	c := &components{cfg: cfg, logger: logger, obs: obs}

	c.mode = policy.ParseMode(cfg.ExecutionMode())
	if flagUnrestricted {
		c.mode = policy.Unrestricted
	}

	c.cwd, err = os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}

	if path := cfg.HistoryPath(); path != "" {
		store, err := history.Open(path, logger)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		c.store = store
	}

	c.provider = buildProvider(cfg, logger)
	if c.provider == nil {
		logger.Warn("No AI backend configured, natural-language input disabled",
			"hint", "set KAMANDA_API_KEY or models.base_url")
	}

	c.policy = policy.New(policy.Config{
		Shell:         cfg.Sandbox.Shell,
		PermittedTree: cfg.Sandbox.PermittedTree,
		PermittedDirs: cfg.Sandbox.PermittedDirs,
		EnvAllowlist:  cfg.Sandbox.EnvAllowlist,
		ExtraDenied:   cfg.Sandbox.Denylist,
	}, os.Environ(), logger)

	c.coord = interrupt.New(func() {
		if c.onTerminate != nil {
			c.onTerminate()
		}
	}, logger)
	c.runner = supervisor.New(c.coord, cfg.Sandbox.Grace(), logger)

	var src complete.HistorySource
	if c.store != nil {
		src = c.store
	}
	c.completer = complete.New(src, filepath.SplitList(os.Getenv("PATH")), logger)

	return c, nil
}

// buildProvider assembles the AI backend from the models config. A
// custom endpoint with an API key gets the hosted API as fallback; no
// key and no endpoint means AI assistance is off.
func buildProvider(cfg *config.Config, logger *slog.Logger) llm.Provider {
	m := cfg.Models
	if m.APIKey == "" && m.BaseURL == "" {
		return nil
	}

	var opts []openai.Option
	if m.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(m.BaseURL))
		if m.Provider != "" {
			opts = append(opts, openai.WithName(m.Provider))
		}
	}
	primary := openai.NewClient(m.APIKey, m.LargeModel(), m.SmallModel(), logger, opts...)

	if m.BaseURL != "" && m.APIKey != "" {
		hosted := openai.NewClient(m.APIKey, m.LargeModel(), m.SmallModel(), logger)
		return llm.NewFallbackProvider([]llm.Provider{primary, hosted}, logger)
	}
	return primary
}

func (c *components) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("Closing history store", "error", err)
		}
	}
	if c.obs != nil {
		c.obs.Shutdown(ctx)
	}
}
