package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/pipeline"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Run the full pipeline for a session",
	Long: `Run a session through all pipeline stages: triage, dedup, embed,
cluster, name. A session that previously failed resumes from its persisted
per-document state; finished documents are not reprocessed.

Use --force to take over a session stuck in an in-progress status after a
killed process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := buildOrchestrator()
		if err != nil {
			return err
		}

		if err := orch.Run(cmd.Context(), args[0], runForce); err != nil {
			if errors.Is(err, pipeline.ErrRunInProgress) {
				return fmt.Errorf("%w (use --force if the previous process is dead)", err)
			}
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Session %s is ready for validation\n", green("✓"), args[0])
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "take over an in-progress session")
	rootCmd.AddCommand(runCmd)
}
