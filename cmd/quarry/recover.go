package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var recoverBatches []string

var recoverCmd = &cobra.Command{
	Use:   "recover <session-id>",
	Short: "Merge results from orphaned triage batches",
	Long: `Drain completed external triage batches whose handles survived a crash.

Batch handles are logged when batches are submitted; if the process dies
while batches are still processing, the work completes on the service side
anyway. This command fetches those results and merges them into the
session. Only documents with no triage outcome are written, so it is safe
to run at any time, including alongside a later full run.

Example:
  quarry recover 1f0a... --batch msgbatch_abc --batch msgbatch_def`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(recoverBatches) == 0 {
			return fmt.Errorf("at least one --batch handle is required")
		}

		orch, err := buildOrchestrator()
		if err != nil {
			return err
		}

		stats, err := orch.Recover(cmd.Context(), args[0], recoverBatches)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Recovered %d triage results (%d already done, %d parse failures)\n",
			green("✓"), stats.Total, stats.Skipped, stats.ParseFailures)
		return nil
	},
}

func init() {
	recoverCmd.Flags().StringArrayVar(&recoverBatches, "batch", nil, "external batch handle (repeatable)")
	rootCmd.AddCommand(recoverCmd)
}
