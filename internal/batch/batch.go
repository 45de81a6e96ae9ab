// Package batch runs a directory or list of card images through the
// processing pipeline with a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/MeKo-Tech/docpipe/internal/pipeline"
)

// Processor is the subset of the pipeline the batch runner needs.
type Processor interface {
	Process(ctx context.Context, image []byte, opts pipeline.Options) (*pipeline.Result, error)
}

// ProcessBatch processes a batch of images with the given configuration.
// Results come back in the order the files were discovered.
func ProcessBatch(ctx context.Context, proc Processor, imagePaths []string, config *Config) (*Result, error) {
	files, err := discoverImageFiles(imagePaths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}

	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}

	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	var bar *progressbar.ProgressBar
	if config.ShowProgress && !config.Quiet {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Processing images"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	startTime := time.Now()
	results, processed, failed, err := runWorkers(ctx, proc, files, config, workers, bar)
	duration := time.Since(startTime)

	if err != nil {
		return nil, err
	}

	slog.Info("Batch processing finished",
		"total", len(files), "processed", processed, "failed", failed,
		"workers", workers, "duration", duration)

	return &Result{
		Files:       results,
		Duration:    duration,
		WorkerCount: workers,
		Processed:   processed,
		Failed:      failed,
	}, nil
}

// runWorkers fans the file list out over a worker pool. With ContinueOnError
// unset, the first failure cancels the remaining work.
func runWorkers(ctx context.Context, proc Processor, files []string, config *Config,
	workers int, bar *progressbar.ProgressBar,
) ([]FileResult, int, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexedPath struct {
		index int
		path  string
	}

	tasks := make(chan indexedPath)
	results := make([]FileResult, len(files))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				res := processFile(ctx, proc, task.path, config.Options)
				results[task.index] = res

				mu.Lock()
				if res.Error != "" && !config.ContinueOnError && firstErr == nil {
					firstErr = fmt.Errorf("processing %s: %s", task.path, res.Error)
					cancel()
				}
				mu.Unlock()

				if bar != nil {
					_ = bar.Add(1)
				}
			}
		}()
	}

	for i, path := range files {
		select {
		case tasks <- indexedPath{index: i, path: path}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, 0, 0, firstErr
	}

	var processed, failed int
	for _, r := range results {
		switch {
		case r.Result != nil:
			processed++
		case r.Error != "":
			failed++
		}
	}

	// Unscheduled entries (cancelled context) are dropped from the report.
	kept := results[:0]
	for _, r := range results {
		if r.Path != "" {
			kept = append(kept, r)
		}
	}

	return kept, processed, failed, nil
}

// processFile reads one image from disk and runs it through the pipeline.
func processFile(ctx context.Context, proc Processor, path string, opts pipeline.Options) FileResult {
	res := FileResult{Path: path}

	data, err := os.ReadFile(path) //nolint:gosec // paths come from CLI arguments
	if err != nil {
		res.Error = fmt.Sprintf("failed to read %s: %v", path, err)
		return res
	}

	out, err := proc.Process(ctx, data, opts)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Result = out
	return res
}
