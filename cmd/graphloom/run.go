package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"graphloom/internal/config"
	"graphloom/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		configPath     string
		skipStorage    bool
		skipValidation bool
		offline        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline for an experiment config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			expCfg, err := config.LoadExperimentConfig(configPath)
			if err != nil {
				return err
			}

			store, err := openStore(runtime, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			embedder, err := buildEmbedder(runtime, expCfg, offline, logger)
			if err != nil {
				return err
			}
			llmClient, err := buildLLM(runtime, expCfg, logger)
			if err != nil {
				return err
			}

			p, err := pipeline.New(expCfg, pipeline.Deps{
				Store:       store,
				Embedder:    embedder,
				LLM:         llmClient,
				Logger:      logger,
				TriggeredBy: "cli",
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := p.Run(ctx, pipeline.RunOptions{
				SkipStorage:    skipStorage,
				SkipValidation: skipValidation,
			})
			printSummary(result)
			if !result.Success {
				return fmt.Errorf("pipeline failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment config file (required)")
	cmd.Flags().BoolVar(&skipStorage, "skip-storage", false, "dry run: compute chunks and metrics without persisting")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "skip every evaluation stage")
	cmd.Flags().BoolVar(&offline, "offline", false, "use the deterministic embedder instead of the provider")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// printSummary writes a human-readable result table to stdout
func printSummary(result *pipeline.Result) {
	header := color.New(color.Bold, color.FgCyan)
	label := color.New(color.FgWhite)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	fmt.Println()
	header.Printf("Experiment: %s\n", result.Config.Name)
	if result.Success {
		good.Println("Status:     completed")
	} else {
		bad.Printf("Status:     failed (%s)\n", result.Error)
	}
	label.Printf("Duration:   %.1f ms\n", result.DurationMS)
	if result.ExperimentID != "" {
		label.Printf("Experiment ID: %s\n", result.ExperimentID)
	}

	stats := result.Stats
	if stats == nil {
		return
	}
	if stats.Chunking != nil {
		header.Println("\nChunking")
		label.Printf("  chunks: %d  avg size: %.0f  range: [%d, %d]\n",
			stats.Chunking.TotalChunks, stats.Chunking.AvgChunkSize,
			stats.Chunking.MinChunkSize, stats.Chunking.MaxChunkSize)
	}
	if stats.Embedding != nil {
		header.Println("\nEmbedding")
		label.Printf("  tokens: %d  cost: $%.6f\n", stats.Embedding.TotalTokens, stats.Embedding.CostUSD)
	}
	if len(stats.Validation) > 0 {
		header.Println("\nValidation")
		scenarios := make([]string, 0, len(stats.Validation))
		for scenario := range stats.Validation {
			scenarios = append(scenarios, scenario)
		}
		sort.Strings(scenarios)
		for _, scenario := range scenarios {
			r := stats.Validation[scenario]
			label.Printf("  %-12s F1 %.3f  P %.3f  R %.3f  (TP %d / FP %d / FN %d)\n",
				scenario, r.F1, r.Precision, r.Recall,
				r.TruePositives, r.FalsePositives, r.FalseNegatives)
		}
	}
	if stats.Retrieval != nil {
		header.Println("\nRetrieval")
		label.Printf("  NDCG@10 %.3f  MRR %.3f  P@5 %.3f  R@10 %.3f  avg %.1f ms over %d queries\n",
			stats.Retrieval.NDCGAt10, stats.Retrieval.MRR,
			stats.Retrieval.PrecisionAt5, stats.Retrieval.RecallAt10,
			stats.Retrieval.AvgRetrievalTimeMS, stats.Retrieval.QueryCount)
	}
	if stats.Graph != nil {
		header.Println("\nGraph")
		label.Printf("  nodes %d  edges %d  density %.4f  clustering %.3f  components %d\n",
			stats.Graph.NodeCount, stats.Graph.EdgeCount, stats.Graph.GraphDensity,
			stats.Graph.AvgClusteringCoefficient, stats.Graph.ConnectedComponents)
	}
	if stats.Temporal != nil {
		header.Println("\nTemporal")
		label.Printf("  coverage %.1f days  avg age %.1f days  recency %.3f  clustering %.3f\n",
			stats.Temporal.CoverageDays, stats.Temporal.AvgAgeDays,
			stats.Temporal.RecencyScore, stats.Temporal.ClusteringScore)
	}
	if stats.Consolidation != nil {
		header.Println("\nConsolidation")
		label.Printf("  duplicate pairs %d  clusters %d  redundant relations %d  ratio %.3f\n",
			stats.Consolidation.DuplicatePairs, stats.Consolidation.DuplicateClusters,
			stats.Consolidation.RedundantRelations, stats.Consolidation.ConsolidationRatio)
	}
	fmt.Println()
}
