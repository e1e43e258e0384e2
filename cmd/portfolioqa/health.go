package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	healthuc "github.com/kailas-cloud/portfolioqa/internal/usecase/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check index, embedding provider, cache and analytics",
	Long:  `Prints the same report as GET /api/health and fails when the index cannot serve questions.`,
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), envName)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.health.Check(cmd.Context())
	out := map[string]any{"status": report.Status, "checks": report.Checks}
	if len(report.Errors) > 0 {
		out["errors"] = report.Errors
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	cmd.Println(string(data))

	if report.Status == healthuc.Unhealthy {
		return errors.New("index cannot serve questions")
	}
	return nil
}
