package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/portfolioqa/internal/config"
	"github.com/kailas-cloud/portfolioqa/internal/domain"
	analyticsrepo "github.com/kailas-cloud/portfolioqa/internal/repository/analytics"
	analyticsuc "github.com/kailas-cloud/portfolioqa/internal/usecase/analytics"
)

var (
	summaryDays    int
	exportDays     int
	analyticsLimit int
	exportOut      string
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Inspect and export recorded questions",
	Long: `Reads the analytics database directly. No provider key and no index are needed,
so the commands also work while the service is running.`,
}

var analyticsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate the questions of the last days",
	Args:  cobra.NoArgs,
	RunE:  runAnalyticsSummary,
}

var analyticsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the newest questions",
	Args:  cobra.NoArgs,
	RunE:  runAnalyticsRecent,
}

var analyticsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write recorded interactions as CSV",
	Long:  `Writes to --out, or to stdout when --out is "-". --days 0 exports everything.`,
	Args:  cobra.NoArgs,
	RunE:  runAnalyticsExport,
}

var analyticsDBCmd = &cobra.Command{
	Use:   "db",
	Short: "Show row count, date range and size of the analytics database",
	Args:  cobra.NoArgs,
	RunE:  runAnalyticsDB,
}

func init() {
	analyticsSummaryCmd.Flags().IntVar(&summaryDays, "days", 30, "period in days")
	analyticsRecentCmd.Flags().IntVar(&analyticsLimit, "limit", 10, "number of questions")
	analyticsExportCmd.Flags().IntVar(&exportDays, "days", 0, "only the last days (0 = all)")
	analyticsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "output file")

	analyticsCmd.AddCommand(analyticsSummaryCmd, analyticsRecentCmd, analyticsExportCmd, analyticsDBCmd)
	rootCmd.AddCommand(analyticsCmd)
}

// openAnalytics opens the configured analytics store without the rest of the app.
func openAnalytics(env string) (*analyticsuc.Service, func(), error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Analytics.Enabled {
		return nil, nil, domain.NewConfigurationError("analytics.enabled", "is false")
	}

	store, err := analyticsrepo.Open(cfg.Analytics.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open analytics: %w", err)
	}
	svc := analyticsuc.New(store, time.Duration(cfg.Analytics.WriteTimeoutSec)*time.Second, nil, nil)
	return svc, func() { _ = store.Close() }, nil
}

func runAnalyticsSummary(cmd *cobra.Command, _ []string) error {
	svc, closeFn, err := openAnalytics(envName)
	if err != nil {
		return err
	}
	defer closeFn()

	sum, err := svc.Summary(cmd.Context(), summaryDays)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	return printJSON(cmd, sum)
}

func runAnalyticsRecent(cmd *cobra.Command, _ []string) error {
	svc, closeFn, err := openAnalytics(envName)
	if err != nil {
		return err
	}
	defer closeFn()

	recent, err := svc.Recent(cmd.Context(), analyticsLimit)
	if err != nil {
		return fmt.Errorf("recent: %w", err)
	}
	if len(recent) == 0 {
		cmd.Println("no questions recorded")
		return nil
	}
	for _, in := range recent {
		flags := ""
		if in.IsCareerRelated {
			flags += " [career]"
		}
		if in.LinkedInIncluded {
			flags += " [linkedin]"
		}
		cmd.Printf("%s  %6.0fms  %s%s\n", in.Timestamp.UTC().Format(time.DateTime), in.ResponseTimeMS, firstLine(in.Question), flags)
		cmd.Printf("    %s\n", firstLine(in.Answer))
	}
	return nil
}

func runAnalyticsExport(cmd *cobra.Command, _ []string) error {
	svc, closeFn, err := openAnalytics(envName)
	if err != nil {
		return err
	}
	defer closeFn()

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "-" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer f.Close()
		w = f
	}

	n, err := svc.Export(cmd.Context(), exportDays, w)
	if err != nil {
		return err
	}
	if exportOut != "-" {
		cmd.Printf("exported %d interactions to %s\n", n, exportOut)
	}
	return nil
}

func runAnalyticsDB(cmd *cobra.Command, _ []string) error {
	svc, closeFn, err := openAnalytics(envName)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := svc.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return printJSON(cmd, stats)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
