package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's pipeline status and stage statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		session, err := store.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		if session == nil {
			return pipeline.ErrSessionNotFound
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Session "+session.ID+" ==="))
		if session.Name != "" {
			fmt.Printf("  Name:      %s\n", session.Name)
		}
		fmt.Printf("  Status:    %s\n", statusColor(session.Status)(string(session.Status)))
		fmt.Printf("  Documents: %d\n", session.TotalDocuments)
		fmt.Printf("  Created:   %s\n", session.CreatedAt.Format("2006-01-02 15:04:05"))
		if session.StageStartedAt != nil {
			fmt.Printf("  Stage started: %s (%v ago)\n",
				session.StageStartedAt.Format("15:04:05"),
				time.Since(*session.StageStartedAt).Round(time.Second))
		}
		if session.CompletedAt != nil {
			fmt.Printf("  Completed: %s\n", session.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		if session.LastError != "" {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("  Last error: %s\n", red(session.LastError))
		}

		stats, err := store.GetSessionStats(ctx, session.ID)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s\n", yellow("Stage statistics:"))
		if len(stats) == 0 {
			fmt.Printf("  %s\n", gray("No stages completed yet"))
		}
		for _, record := range stats {
			decoded, err := record.Decode()
			if err != nil {
				return err
			}
			fmt.Printf("  %-8s %s\n", record.Stage, formatStats(decoded))
			fmt.Printf("           %s\n", gray("completed "+record.CompletedAt.Format("2006-01-02 15:04:05")))
		}
		fmt.Println()
		return nil
	},
}

func statusColor(status types.PipelineStatus) func(...interface{}) string {
	switch {
	case status == types.StatusFailed:
		return color.New(color.FgRed).SprintFunc()
	case status.IsTerminal():
		return color.New(color.FgGreen).SprintFunc()
	case status.InProgress():
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func formatStats(decoded any) string {
	switch s := decoded.(type) {
	case *types.TriageStats:
		return fmt.Sprintf("firm_drafted=%d third_party=%d irrelevant=%d court_doc=%d uncertain=%d skipped=%d",
			s.FirmDrafted, s.ThirdParty, s.Irrelevant, s.CourtDoc, s.Uncertain, s.Skipped)
	case *types.DedupStats:
		return fmt.Sprintf("canonical=%d duplicates=%d groups=%d", s.Canonical, s.Duplicates, s.Groups)
	case *types.EmbeddingStats:
		return fmt.Sprintf("embedded=%d skipped=%d failed=%d", s.Embedded, s.Skipped, s.Failed)
	case *types.ClusterStats:
		return fmt.Sprintf("clusters=%d noise=%d avg_size=%.1f max_size=%d",
			s.Clusters, s.NoiseCount, s.AvgClusterSize, s.MaxClusterSize)
	case *types.NamingStats:
		return fmt.Sprintf("named=%d failed=%d skipped=%d", s.Named, s.Failed, s.Skipped)
	default:
		return fmt.Sprintf("%v", decoded)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
