package pipeline

import "fmt"

// Options are per-call processing parameters. They are passed explicitly so
// that concurrent requests never mutate shared configuration.
type Options struct {
	// ConfThreshold is the minimum confidence forwarded to both services.
	ConfThreshold float64
	// IoUThreshold is the NMS IoU threshold forwarded to the detector.
	IoUThreshold float64
}

// Validate checks that both thresholds are within [0, 1].
func (o Options) Validate() error {
	if o.ConfThreshold < 0 || o.ConfThreshold > 1 {
		return fmt.Errorf("conf_threshold %.3f out of range [0,1]", o.ConfThreshold)
	}
	if o.IoUThreshold < 0 || o.IoUThreshold > 1 {
		return fmt.Errorf("iou_threshold %.3f out of range [0,1]", o.IoUThreshold)
	}
	return nil
}

// DetectionWithText is the merged, externally visible unit: one detected
// region with whatever text recognition produced for it. Text is empty when
// the recognizer dropped or failed the region.
type DetectionWithText struct {
	BBox       [4]float64 `json:"bbox" yaml:"bbox,flow"`
	ClassName  string     `json:"class_name" yaml:"class_name"`
	Confidence float64    `json:"confidence" yaml:"confidence"`
	Text       string     `json:"text" yaml:"text"`
}

// Timing breaks the pipeline call down per stage.
type Timing struct {
	DetectionNs   int64 `json:"detection_ns" yaml:"detection_ns"`
	RecognitionNs int64 `json:"recognition_ns" yaml:"recognition_ns"`
	TotalNs       int64 `json:"total_ns" yaml:"total_ns"`
}

// Result is the aggregate pipeline response. The three counts are
// independent: DetectorCount is what the detector reported, RecognizerCount
// what the recognizer actually returned, and their divergence usually means
// the recognizer filtered regions below its threshold.
type Result struct {
	RequestID          string              `json:"request_id" yaml:"request_id"`
	DetectionsWithText []DetectionWithText `json:"detections_with_text" yaml:"detections_with_text"`
	TotalDetections    int                 `json:"total_detections" yaml:"total_detections"`
	DetectorCount      int                 `json:"yolo_detections" yaml:"yolo_detections"`
	RecognizerCount    int                 `json:"ocr_results" yaml:"ocr_results"`
	// ProcessingTime is the wall-clock duration of the whole call in seconds.
	ProcessingTime float64 `json:"processing_time" yaml:"processing_time"`
	Processing     Timing  `json:"processing" yaml:"processing"`
}

// ServiceStatus reports per-collaborator availability.
type ServiceStatus struct {
	Detector   bool `json:"detector" yaml:"detector"`
	Recognizer bool `json:"recognizer" yaml:"recognizer"`
}

// Healthy reports whether both collaborators are up.
func (s ServiceStatus) Healthy() bool { return s.Detector && s.Recognizer }
