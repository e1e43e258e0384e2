package main

import (
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/portfolioqa/internal/config"
	"github.com/kailas-cloud/portfolioqa/internal/version"
)

var envName string

var rootCmd = &cobra.Command{
	Use:   "portfolioqa",
	Short: "Question answering over a portfolio knowledge base",
	Long: `portfolioqa answers questions about a person from a CSV, YAML or Parquet knowledge base.
It embeds the records into a persisted vector index, retrieves the closest ones
for each question and asks a chat model to answer from them only.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", config.GetEnv(),
		"configuration environment, selects config/<env>.yaml")
}
