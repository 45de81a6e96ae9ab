package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToJSON serializes a Result to pretty JSON.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToYAML serializes a Result to YAML.
func ToYAML(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := yaml.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToCSV exports per-region structured data as CSV with header.
func ToCSV(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"x1", "y1", "x2", "y2", "class", "confidence", "text"})
	for _, d := range res.DetectionsWithText {
		row := []string{
			strconv.FormatFloat(d.BBox[0], 'f', 1, 64),
			strconv.FormatFloat(d.BBox[1], 'f', 1, 64),
			strconv.FormatFloat(d.BBox[2], 'f', 1, 64),
			strconv.FormatFloat(d.BBox[3], 'f', 1, 64),
			d.ClassName,
			fmt.Sprintf("%.3f", d.Confidence),
			d.Text,
		}
		_ = w.Write(row)
	}
	w.Flush()
	return buf.String(), nil
}

// ToPlainText extracts the recognized field texts in detection order,
// skipping regions without text.
func ToPlainText(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	if len(res.DetectionsWithText) == 0 {
		return "", nil
	}
	lines := make([]string, 0, len(res.DetectionsWithText))
	for _, d := range res.DetectionsWithText {
		t := strings.TrimSpace(d.Text)
		if t == "" {
			continue
		}
		if d.ClassName != "" {
			lines = append(lines, d.ClassName+": "+t)
		} else {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ValidateResult performs simple consistency checks on a pipeline response.
func ValidateResult(res *Result) error {
	if res == nil {
		return errors.New("nil result")
	}
	if len(res.DetectionsWithText) != res.TotalDetections {
		return fmt.Errorf("result has %d merged entries but total_detections=%d",
			len(res.DetectionsWithText), res.TotalDetections)
	}
	for i, d := range res.DetectionsWithText {
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d confidence out of range", i)
		}
	}
	return nil
}
