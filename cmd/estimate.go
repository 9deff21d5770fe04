package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ai-gateway/internal/tokens"
	"ai-gateway/internal/usage"
)

var (
	estimateFamily string

	estimateCmd = &cobra.Command{
		Use:   "estimate [request.json]",
		Short: "Estimate the tokens of a request without calling the provider",
		Long: `Reads a request of the form
  {"system": "...", "messages": [...], "tools": [...]}
from the given file, or stdin, and prints its token breakdown and whether
it fits the family's context window.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEstimate,
	}
)

func init() {
	estimateCmd.Flags().StringVar(&estimateFamily, "family", "", "model family, e.g. openai/gpt-4o")
	_ = estimateCmd.MarkFlagRequired("family")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var req tokens.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	estimator, err := newEstimator(cfg, nil)
	if err != nil {
		return err
	}
	b := estimator.EstimateRequest(req, estimateFamily)
	limits := cfg.Limits.For(estimateFamily)
	return printEstimate(cmd.OutOrStdout(), b, limits)
}

func printEstimate(w io.Writer, b tokens.Breakdown, limits usage.Limits) error {
	fmt.Fprintf(w, "system:   %d\n", b.System)
	fmt.Fprintf(w, "messages: %d\n", b.Messages)
	fmt.Fprintf(w, "tools:    %d\n", b.Tools)
	fmt.Fprintf(w, "total:    %d\n", b.Total)
	if err := usage.CheckRequest(usage.Limits{ContextWindow: limits.ContextWindow}, b.Total, usage.Usage{}); err != nil {
		_, err := fmt.Fprintf(w, "verdict:  %v\n", err)
		return err
	}
	_, err := fmt.Fprintf(w, "verdict:  fits the %d token context window\n", limits.ContextWindow)
	return err
}
