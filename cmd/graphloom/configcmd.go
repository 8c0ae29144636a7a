package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphloom/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect experiment configuration",
	}
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Strictly parse an experiment config and report problems",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadExperimentConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: valid (chunking=%s, embedding=%s, scenarios=%v)\n",
				configPath, cfg.Chunking.Strategy, cfg.Embedding.Model, cfg.Validation.Scenarios)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment config file (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
