package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := store.ListSessions(cmd.Context())
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(sessions) == 0 {
			fmt.Printf("%s\n", gray("No sessions. Create one with 'quarry import'."))
			return nil
		}

		for _, session := range sessions {
			name := session.Name
			if name == "" {
				name = gray("(unnamed)")
			}
			fmt.Printf("%s  %-20s %6d docs  %s\n",
				session.ID, name, session.TotalDocuments,
				statusColor(session.Status)(string(session.Status)))
		}
		return nil
	},
}

var clustersCmd = &cobra.Command{
	Use:   "clusters <session-id>",
	Short: "List a session's clusters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clusters, err := store.ListClusters(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(clusters) == 0 {
			fmt.Printf("%s\n", gray("No clusters yet."))
			return nil
		}

		for _, c := range clusters {
			label := c.Name
			switch {
			case c.IsNoise:
				label = gray("(noise)")
			case label == "":
				label = gray("(unnamed)")
			}
			fmt.Printf("%s  %5d docs  %s\n", c.ID, c.MemberCount, label)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(clustersCmd)
}
