package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleResult() *Result {
	return &Result{
		RequestID: "req-1",
		DetectionsWithText: []DetectionWithText{
			{BBox: [4]float64{10, 10, 50, 30}, ClassName: "id_number", Confidence: 0.93, Text: "079123456789"},
			{BBox: [4]float64{10, 40, 80, 60}, ClassName: "full_name", Confidence: 0.88, Text: ""},
		},
		TotalDetections: 2,
		DetectorCount:   2,
		RecognizerCount: 1,
		ProcessingTime:  0.42,
	}
}

func TestToJSON(t *testing.T) {
	s, err := ToJSON(sampleResult())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	assert.Equal(t, float64(2), decoded["total_detections"])
	assert.Equal(t, float64(2), decoded["yolo_detections"])
	assert.Equal(t, float64(1), decoded["ocr_results"])
	assert.Contains(t, s, "079123456789")
}

func TestToJSON_NilResult(t *testing.T) {
	_, err := ToJSON(nil)
	assert.Error(t, err)
}

func TestToYAML(t *testing.T) {
	s, err := ToYAML(sampleResult())
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, yaml.Unmarshal([]byte(s), &decoded))
	assert.Equal(t, 2, decoded.TotalDetections)
	assert.Equal(t, "id_number", decoded.DetectionsWithText[0].ClassName)
}

func TestToCSV(t *testing.T) {
	s, err := ToCSV(sampleResult())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(s), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "x1,y1,x2,y2,class,confidence,text", lines[0])
	assert.Contains(t, lines[1], "id_number")
	assert.Contains(t, lines[1], "079123456789")
}

func TestToPlainText(t *testing.T) {
	s, err := ToPlainText(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, "id_number: 079123456789", s, "regions without text are skipped")
}

func TestToPlainText_Empty(t *testing.T) {
	s, err := ToPlainText(&Result{})
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestValidateResult(t *testing.T) {
	assert.NoError(t, ValidateResult(sampleResult()))

	bad := sampleResult()
	bad.TotalDetections = 5
	assert.Error(t, ValidateResult(bad))

	conf := sampleResult()
	conf.DetectionsWithText[0].Confidence = 1.5
	assert.Error(t, ValidateResult(conf))

	assert.Error(t, ValidateResult(nil))
}
