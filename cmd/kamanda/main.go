// Kamanda — AI-assisted command shell with sandboxed execution.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kamanda",
	Short: "Kamanda — an interactive command shell with an AI backend.",
	Long: `Kamanda is an interactive command shell that accepts both ordinary shell
commands and natural-language task descriptions. Commands run under a
sandbox policy that inspects them before anything is spawned; task
descriptions are sent to an AI backend which proposes the command to run.`,
	RunE:          runShell, // Default to the interactive shell.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(execCmd, historyCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
