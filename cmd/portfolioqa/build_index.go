package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/portfolioqa/internal/usecase/qa"
)

var buildForce bool

var buildIndexCmd = &cobra.Command{
	Use:   "build-index",
	Short: "Build and persist the vector index",
	Long: `Loads the persisted index, or builds it from the knowledge base when none exists.
With --force the knowledge base is always re-embedded and the index replaced.`,
	Args: cobra.NoArgs,
	RunE: runBuildIndex,
}

func init() {
	buildIndexCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "rebuild even if a persisted index exists")
	rootCmd.AddCommand(buildIndexCmd)
}

func runBuildIndex(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), envName)
	if err != nil {
		return err
	}
	defer a.Close()

	var info qa.IndexInfo
	if buildForce {
		info, err = a.qa.Rebuild(cmd.Context())
	} else {
		info, err = a.qa.Warm(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	cmd.Printf("Index ready at %s\n", a.cfg.Index.Path)
	cmd.Printf("  backend:   %s\n", info.Backend)
	cmd.Printf("  model:     %s\n", info.EmbeddingModel)
	cmd.Printf("  documents: %d\n", info.Documents)
	cmd.Printf("  dimension: %d\n", info.Dimension)
	cmd.Printf("  created:   %s\n", info.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
