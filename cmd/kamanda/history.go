package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kamanda/internal/history"
)

var (
	historyLimit  int
	historySearch string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent accepted inputs",
	Long: `List recent inputs accepted by past sessions, newest first.
Natural-language entries show the command the AI backend resolved
them to.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries to show")
	historyCmd.Flags().StringVarP(&historySearch, "search", "s", "", "filter entries containing this term")
}

func runHistory(_ *cobra.Command, _ []string) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}
	defer c.cleanup()

	if c.store == nil {
		return fmt.Errorf("history is disabled in the config")
	}

	ctx := context.Background()
	var entries []history.Entry
	if historySearch != "" {
		entries, err = c.store.Search(ctx, historySearch, historyLimit)
	} else {
		entries, err = c.store.Recent(ctx, historyLimit)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		line := e.Input
		if e.Kind == "natural" && e.Command != "" {
			line = fmt.Sprintf("%s  [%s]", e.Input, e.Command)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Mode, line)
	}
	return w.Flush()
}
