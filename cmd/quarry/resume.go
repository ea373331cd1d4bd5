package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/types"
)

var (
	resumeStage string
	resumeForce bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a failed session from a specific stage",
	Long: `Resume a failed session. By default resumption starts at triage, which
is safe because every stage skips documents already in a terminal state
for that stage. With --stage, earlier stages are skipped entirely and
their persisted outputs are read as-is.

Stages: triage, dedup, embed, cluster, name`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage := types.StageTriage
		if resumeStage != "" {
			var err error
			stage, err = types.ParseStage(resumeStage)
			if err != nil {
				return err
			}
		}

		orch, err := buildOrchestrator()
		if err != nil {
			return err
		}

		if err := orch.RunFromStage(cmd.Context(), args[0], stage, resumeForce); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Session %s is ready for validation\n", green("✓"), args[0])
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeStage, "stage", "", "stage to resume from (default: triage)")
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "take over an in-progress session")
	rootCmd.AddCommand(resumeCmd)
}
