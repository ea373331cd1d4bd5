package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/types"
)

var importName string

type importRecord struct {
	ID      string `json:"id,omitempty"`
	Source  string `json:"source,omitempty"`
	Subject string `json:"subject,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
}

var importCmd = &cobra.Command{
	Use:   "import <documents.jsonl>",
	Short: "Create a session from extracted documents",
	Long: `Import extracted documents from a JSONL file into a new session.

Each line is one document:
  {"source": "archive/box12/lease.doc", "subject": "...", "sender": "...", "content": "..."}

Documents without an id get a generated one. The new session starts in
not_started; run it with 'quarry run'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

		var records []importRecord
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var rec importRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("line %d: invalid JSON: %w", line, err)
			}
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			records = append(records, rec)
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		if len(records) == 0 {
			return fmt.Errorf("no documents found in %s", args[0])
		}

		session := &types.Session{
			ID:             uuid.NewString(),
			Name:           importName,
			TotalDocuments: len(records),
			Status:         types.StatusNotStarted,
			CreatedAt:      time.Now(),
		}
		if err := store.CreateSession(ctx, session); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		for i, rec := range records {
			doc := &types.Document{
				ID:        rec.ID,
				SessionID: session.ID,
				Source:    rec.Source,
				Subject:   rec.Subject,
				Sender:    rec.Sender,
				Content:   rec.Content,
				CreatedAt: time.Now(),
			}
			if err := store.CreateDocument(ctx, doc); err != nil {
				return fmt.Errorf("document %d: %w", i+1, err)
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Imported %d documents into session %s\n", green("✓"), len(records), session.ID)
		fmt.Printf("  Run it with: quarry run %s\n", session.ID)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importName, "name", "", "session name")
	rootCmd.AddCommand(importCmd)
}
