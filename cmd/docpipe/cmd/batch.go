package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docpipe/internal/batch"
)

// batchCmd represents the batch command.
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Process multiple card images in parallel",
	Long: `Process a set of card images or directories through the pipeline
using a bounded worker pool.

Examples:
  docpipe batch ./cards
  docpipe batch ./cards --recursive --workers 8
  docpipe batch front.jpg back.jpg --format csv --output results.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	workers := cfg.Batch.Workers
	if cmd.Flags().Changed("workers") {
		workers, _ = cmd.Flags().GetInt("workers")
	}

	continueOnError := cfg.Batch.ContinueOnError
	if cmd.Flags().Changed("continue-on-error") {
		continueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}

	recursive, _ := cmd.Flags().GetBool("recursive")
	includePatterns, _ := cmd.Flags().GetStringSlice("include")
	excludePatterns, _ := cmd.Flags().GetStringSlice("exclude")
	showProgress, _ := cmd.Flags().GetBool("progress")
	quiet, _ := cmd.Flags().GetBool("quiet")
	showStats, _ := cmd.Flags().GetBool("stats")
	format, _ := cmd.Flags().GetString("format")
	outputFile, _ := cmd.Flags().GetString("output")

	pl, err := buildPipeline(cmd)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	batchConfig := &batch.Config{
		Options:         pl.DefaultOptions(),
		Workers:         workers,
		Recursive:       recursive,
		IncludePatterns: includePatterns,
		ExcludePatterns: excludePatterns,
		ContinueOnError: continueOnError,
		ShowProgress:    showProgress,
		Quiet:           quiet,
	}

	res, err := batch.ProcessBatch(cmd.Context(), pl, args, batchConfig)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}

	if err := res.SaveResults(format, outputFile, quiet); err != nil {
		return err
	}

	if showStats {
		res.PrintStats(quiet)
	}

	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addPipelineFlags(batchCmd)
	batchCmd.Flags().IntP("workers", "w", 4, "number of parallel workers")
	batchCmd.Flags().BoolP("recursive", "r", false, "recurse into subdirectories")
	batchCmd.Flags().StringSlice("include", nil, "glob patterns of file names to include")
	batchCmd.Flags().StringSlice("exclude", nil, "glob patterns of file names to exclude")
	batchCmd.Flags().Bool("continue-on-error", true, "keep processing after per-file failures")
	batchCmd.Flags().Bool("progress", true, "show a progress bar")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress non-result output")
	batchCmd.Flags().Bool("stats", false, "print processing statistics")
	batchCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, csv, text)")
	batchCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
}
