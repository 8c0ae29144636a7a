package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphloom/internal/corpus"
)

func newCorpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the canonical-object corpus",
	}
	cmd.AddCommand(newCorpusLoadCmd())
	return cmd
}

func newCorpusLoadCmd() *cobra.Command {
	var fixturePath string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a YAML fixture of objects and ground truth into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			fixture, err := corpus.Load(fixturePath)
			if err != nil {
				return err
			}

			store, err := openStore(runtime, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			summary, err := fixture.Apply(cmd.Context(), store, logger)
			if err != nil {
				return err
			}
			fmt.Printf("loaded %d objects, %d ground-truth relations, %d queries\n",
				summary.Objects, summary.Relations, summary.Queries)
			return nil
		},
	}

	cmd.Flags().StringVarP(&fixturePath, "file", "f", "", "fixture file to load (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
