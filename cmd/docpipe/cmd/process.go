package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docpipe/internal/imageio"
	"github.com/MeKo-Tech/docpipe/internal/pipeline"
)

// processCmd represents the process command.
var processCmd = &cobra.Command{
	Use:   "process [image]",
	Short: "Process a single card image",
	Long: `Process a single card image through the detection and recognition
pipeline and print the merged result.

Examples:
  docpipe process card.jpg
  docpipe process card.jpg --format csv
  docpipe process card.jpg --conf-threshold 0.6 --output result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	outputFile, _ := cmd.Flags().GetString("output")

	data, err := os.ReadFile(args[0]) //nolint:gosec // path comes from the CLI argument
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	prepared, err := imageio.Prepare(data, imageio.DefaultConstraints())
	if err != nil {
		return fmt.Errorf("invalid image %s: %w", args[0], err)
	}

	pl, err := buildPipeline(cmd)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	timeoutSec := GetConfig().Pipeline.TimeoutSec
	ctx := context.Background()
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	res, err := pl.Process(ctx, prepared, pl.DefaultOptions())
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	output, err := formatResult(res, format)
	if err != nil {
		return err
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// formatResult renders a pipeline result in the requested output format.
func formatResult(res *pipeline.Result, format string) (string, error) {
	switch format {
	case "", "json":
		return pipeline.ToJSON(res)
	case "yaml":
		return pipeline.ToYAML(res)
	case "csv":
		return pipeline.ToCSV(res)
	case "text":
		return pipeline.ToPlainText(res)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func init() {
	rootCmd.AddCommand(processCmd)
	addPipelineFlags(processCmd)
	processCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, csv, text)")
	processCmd.Flags().StringP("output", "o", "", "write result to file instead of stdout")
}
