package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer record as JSON")
	rootCmd.AddCommand(askCmd)
}

type askOutput struct {
	Answer         string            `json:"answer"`
	Sources        []domain.Document `json:"sources"`
	ResponseTimeMS float64           `json:"response_time_ms"`
	Degraded       bool              `json:"degraded"`
	Error          string            `json:"error,omitempty"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), envName)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.qa.Answer(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}

	if askJSON {
		return outputAskJSON(cmd, rec)
	}

	cmd.Println(rec.Answer)
	if rec.Degraded {
		cmd.PrintErrf("\n(degraded: %v)\n", rec.Err)
	}
	if len(rec.SourceDocuments) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, doc := range rec.SourceDocuments {
			label := doc.Metadata.Question
			if label == "" {
				label = firstLine(doc.Body)
			}
			cmd.Printf("  [%d] %s (%s row %d)\n", i+1, label, doc.Metadata.Source, doc.Metadata.Row)
		}
	}
	return nil
}

func outputAskJSON(cmd *cobra.Command, rec domain.AnswerRecord) error {
	out := askOutput{
		Answer:         rec.Answer,
		Sources:        rec.SourceDocuments,
		ResponseTimeMS: rec.ResponseTimeMS(),
		Degraded:       rec.Degraded,
	}
	if out.Sources == nil {
		out.Sources = []domain.Document{}
	}
	if rec.Err != nil {
		out.Error = rec.Err.Error()
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	const maxLen = 80
	if r := []rune(line); len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return line
}
