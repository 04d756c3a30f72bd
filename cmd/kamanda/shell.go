package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattn/go-isatty"

	"github.com/jkaninda/kamanda/internal/relay"
	"github.com/jkaninda/kamanda/internal/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive shell (the default)",
	RunE:  runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(_ *cobra.Command, _ []string) error {
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
		In:             os.Stdin,
		Out:            os.Stdout,
		ErrOut:         os.Stderr,
		Interactive:    isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
		Cwd:            c.cwd,
	})
	if err != nil {
		return err
	}
	c.onTerminate = sess.RequestTerminate

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := c.coord.Notify(ctx)
	defer stop()

	return sess.Run(ctx)
}

// appenderOrNil avoids handing session a typed-nil history store.
func appenderOrNil(c *components) session.Appender {
	if c.store == nil {
		return nil
	}
	return c.store
}
