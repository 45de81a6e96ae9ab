package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/docpipe/internal/pipeline"
)

// FormatResults renders the batch outcome in the requested format.
// Supported formats: json (default), yaml, csv, text.
func (r *Result) FormatResults(format string) (string, error) {
	switch format {
	case "", "json":
		return formatJSON(r.Files)
	case "yaml":
		return formatYAML(r.Files)
	case "csv":
		return formatCSV(r.Files)
	case "text":
		return formatText(r.Files)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatYAML(files []FileResult) (string, error) {
	data, err := yaml.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}
	return string(data), nil
}

func formatJSON(files []FileResult) (string, error) {
	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}
	return string(data) + "\n", nil
}

// formatCSV emits one row per recognized region, prefixed with the file path.
func formatCSV(files []FileResult) (string, error) {
	var b strings.Builder
	b.WriteString("file,x1,y1,x2,y2,class,confidence,text\n")
	for _, f := range files {
		if f.Result == nil {
			continue
		}
		body, err := pipeline.ToCSV(f.Result)
		if err != nil {
			return "", err
		}
		for i, line := range strings.Split(strings.TrimSpace(body), "\n") {
			if i == 0 {
				continue // header
			}
			b.WriteString(f.Path)
			b.WriteString(",")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func formatText(files []FileResult) (string, error) {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("=== ")
		b.WriteString(f.Path)
		b.WriteString(" ===\n")
		if f.Error != "" {
			b.WriteString("error: ")
			b.WriteString(f.Error)
			b.WriteString("\n\n")
			continue
		}
		body, err := pipeline.ToPlainText(f.Result)
		if err != nil {
			return "", err
		}
		if body != "" {
			b.WriteString(body)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
