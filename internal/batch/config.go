package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/MeKo-Tech/docpipe/internal/pipeline"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Per-image processing options
	Options pipeline.Options

	// Parallel processing settings
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Failure handling: keep going and report per-file errors, or stop at
	// the first failure.
	ContinueOnError bool

	// Progress settings
	ShowProgress bool
	Quiet        bool
}

// FileResult is the outcome for a single image in the batch.
type FileResult struct {
	Path   string           `json:"path" yaml:"path"`
	Result *pipeline.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result holds the outcome of a batch run.
type Result struct {
	Files       []FileResult
	Duration    time.Duration
	WorkerCount int
	Processed   int
	Failed      int
}

// SaveResults writes the formatted results to a file or stdout.
func (r *Result) SaveResults(format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(os.Stdout, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprint(os.Stdout, output)
	}

	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(quiet bool) {
	if quiet {
		return
	}

	avg := time.Duration(0)
	if r.Processed > 0 {
		avg = r.Duration / time.Duration(r.Processed)
	}
	throughput := 0.0
	if r.Duration > 0 {
		throughput = float64(r.Processed) / r.Duration.Seconds()
	}

	_, _ = fmt.Fprintf(os.Stdout, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(os.Stdout, "  Total images: %d\n", len(r.Files))
	_, _ = fmt.Fprintf(os.Stdout, "  Processed: %d\n", r.Processed)
	_, _ = fmt.Fprintf(os.Stdout, "  Failed: %d\n", r.Failed)
	_, _ = fmt.Fprintf(os.Stdout, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(os.Stdout, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(os.Stdout, "  Avg per image: %v\n", avg.Round(time.Millisecond))
	_, _ = fmt.Fprintf(os.Stdout, "  Throughput: %.1f images/sec\n", throughput)
}
