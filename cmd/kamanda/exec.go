package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kamanda/internal/policy"
	"github.com/jkaninda/kamanda/internal/relay"
	"github.com/jkaninda/kamanda/internal/session"
)

// Exit codes for the exec command.
const (
	ExitSuccess            = 0
	ExitFailure            = 1
	ExitPolicyDenied       = 2
	ExitBackendUnavailable = 3
)

var (
	execMessage string
	execTimeout int
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run a single input non-interactively",
	Long: `Run one input line as if typed at the shell prompt, then exit.
The input goes through the same classification and sandbox policy as
interactive input: a shell command runs directly, anything else is
resolved to a command by the AI backend first.

Examples:
  kamanda exec -m "df -h"
  kamanda exec -m "show the five largest files under /var/log"
  kamanda exec --unrestricted -m "free the stale package lock"

Exit codes:
  0  success
  1  execution failure
  2  rejected by the sandbox policy
  3  AI backend unavailable`,
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVarP(&execMessage, "message", "m", "", "input to run (required)")
	execCmd.Flags().IntVar(&execTimeout, "timeout", 300, "timeout in seconds")

	_ = execCmd.MarkFlagRequired("message")
}

func runExec(_ *cobra.Command, _ []string) error {
	if execMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	c, err := buildComponents()
	if err != nil {
		return err
	}
	defer c.cleanup()

	systemPrompt, err := c.cfg.LoadSystemPrompt()
	if err != nil {
		return err
	}
	instructions, err := c.cfg.LoadInstructions()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(execTimeout)*time.Second)
	defer cancel()
	c.onTerminate = cancel
	stop := c.coord.Notify(ctx)
	defer stop()

	sess, err := session.New(session.Options{
		Mode:           c.mode,
		Policy:         c.policy,
		Runner:         c.runner,
		Coordinator:    c.coord,
		Provider:       c.provider,
		History:        appenderOrNil(c),
		Completer:      c.completer,
		Sink:           relay.NewWriterSink(os.Stdout, os.Stderr),
		Tracer:         c.obs.TracerOrNil().Tracer(),
		Logger:         c.logger,
		SystemPrompt:   systemPrompt,
		Instructions:   instructions,
		MaxTokens:      c.cfg.Models.CompletionTokens(),
		MaxOutputBytes: c.cfg.Sandbox.MaxOutputBytes(),
		Out:            os.Stdout,
		ErrOut:         os.Stderr,
		Cwd:            c.cwd,
	})
	if err != nil {
		return err
	}

	result, err := sess.Execute(ctx, execMessage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var violation *policy.ViolationError
		switch {
		case errors.As(err, &violation):
			os.Exit(ExitPolicyDenied)
		case errors.Is(err, session.ErrBackendUnavailable):
			os.Exit(ExitBackendUnavailable)
		default:
			os.Exit(ExitFailure)
		}
	}
	if result != nil && result.Failed() {
		os.Exit(ExitFailure)
	}
	return nil
}
