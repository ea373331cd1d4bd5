package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/pipeline"
)

var resetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Return a failed or finished session to not_started",
	Long: `Reset a session so it can be rerun. Only failed or finished sessions
can be reset. Per-document progress (triage outcomes, embeddings) is kept;
a rerun redoes only what is missing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Reset needs no stage runners, only the store.
		orch := pipeline.New(store, pipeline.Stages{})
		if err := orch.Reset(cmd.Context(), args[0]); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Session %s reset to not_started\n", green("✓"), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
