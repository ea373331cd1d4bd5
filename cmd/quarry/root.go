package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/ai"
	"github.com/quarrylabs/quarry/internal/cluster"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/dedup"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/storage"
	"github.com/quarrylabs/quarry/internal/triage"
)

var (
	cfgFile string
	verbose bool

	cfg   *config.Config
	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Categorize legacy document archives",
	Long: `Quarry runs a law firm's legacy document archive through a staged
categorization pipeline: triage classification, duplicate collapse,
embedding, clustering, and cluster naming. Every stage persists its
progress, so a killed run resumes where it left off.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env is fine; explicit env vars win either way.
		_ = godotenv.Load()

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		store, err = storage.New(cmd.Context(), cfg.StorageConfig())
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "quarry.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

// buildOrchestrator wires the stage runners behind the orchestrator. The
// external model clients are only constructed here, so commands that never
// call them (status, sessions) work without API keys.
func buildOrchestrator() (*pipeline.Orchestrator, error) {
	client, err := ai.NewClient(&ai.Config{Model: cfg.Triage.Model})
	if err != nil {
		return nil, err
	}

	classifier, err := triage.New(store, ai.NewAnthropicBatches(client), cfg.TriageConfig())
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewOpenAIEmbedder()
	if err != nil {
		return nil, err
	}
	generator, err := embedding.New(store, embedder, cfg.EmbeddingConfig())
	if err != nil {
		return nil, err
	}

	engine, err := cluster.NewEngine(store, cfg.ReduceConfig(), cfg.DBSCANConfig())
	if err != nil {
		return nil, err
	}
	namer, err := cluster.NewNamer(store, client, cfg.NamerConfig())
	if err != nil {
		return nil, err
	}

	return pipeline.New(store, pipeline.Stages{
		Triage:  classifier,
		Dedup:   dedup.New(store),
		Embed:   generator,
		Cluster: engine,
		Name:    namer,
	}), nil
}
