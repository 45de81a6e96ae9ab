package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/docpipe/internal/detect"
	"github.com/MeKo-Tech/docpipe/internal/recognize"
	"github.com/google/uuid"
)

// Process runs the full two-stage pipeline on one image. Stages are
// sequential: recognition needs the detected regions as input.
//
// Failure semantics: a service-level error from either hop aborts the whole
// call and propagates to the caller. Zero detections is a well-formed empty
// success and skips the recognition round trip entirely.
func (p *Pipeline) Process(ctx context.Context, image []byte, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RequestID:          uuid.NewString(),
		DetectionsWithText: []DetectionWithText{},
	}
	start := time.Now()

	detStart := time.Now()
	regions, err := p.detector.Detect(ctx, image, detect.Options{
		ConfThreshold: opts.ConfThreshold,
		IoUThreshold:  opts.IoUThreshold,
	})
	res.Processing.DetectionNs = time.Since(detStart).Nanoseconds()
	if err != nil {
		return nil, err
	}

	res.TotalDetections = len(regions)
	res.DetectorCount = len(regions)
	if len(regions) == 0 {
		slog.Debug("no regions detected", "request_id", res.RequestID)
		finalize(res, start)
		return res, nil
	}

	boxes := make([][4]float64, len(regions))
	confidences := make([]float64, len(regions))
	for i, r := range regions {
		boxes[i] = r.BBox
		confidences[i] = r.Confidence
	}

	recStart := time.Now()
	texts, err := p.recognizer.Recognize(ctx, image, boxes, confidences, opts.ConfThreshold)
	res.Processing.RecognitionNs = time.Since(recStart).Nanoseconds()
	if err != nil {
		return nil, err
	}

	res.RecognizerCount = len(texts)
	res.DetectionsWithText = mergeRegions(regions, texts)
	finalize(res, start)

	slog.Info("pipeline completed",
		"request_id", res.RequestID,
		"detections", res.DetectorCount,
		"ocr_results", res.RecognizerCount,
		"duration_ms", res.Processing.TotalNs/int64(time.Millisecond))
	return res, nil
}

func finalize(res *Result, start time.Time) {
	res.Processing.TotalNs = time.Since(start).Nanoseconds()
	res.ProcessingTime = time.Since(start).Seconds()
}

// mergeRegions correlates recognition output back to the detected regions,
// iterating in detection order so output ordering is deterministic no matter
// how the recognizer reordered or filtered its results. Every region yields
// exactly one entry; unmatched regions carry empty text and keep their
// detection confidence.
//
// Correlation key is the echoed sequence index. Results without an index fall
// back to quantized bbox coordinates, which tolerates the float round-tripping
// that exact equality would not.
func mergeRegions(regions []detect.Region, texts []recognize.RecognizedText) []DetectionWithText {
	byIndex := make(map[int]recognize.RecognizedText, len(texts))
	byBox := make(map[[4]int64]recognize.RecognizedText)
	for _, t := range texts {
		if t.Index >= 0 {
			byIndex[t.Index] = t
			continue
		}
		byBox[quantizeBox(t.BBox)] = t
	}

	out := make([]DetectionWithText, 0, len(regions))
	for i, r := range regions {
		d := DetectionWithText{
			BBox:       r.BBox,
			ClassName:  r.ClassName,
			Confidence: r.Confidence,
		}
		t, ok := byIndex[i]
		if !ok {
			t, ok = byBox[quantizeBox(r.BBox)]
		}
		if ok {
			d.Text = t.Text
			if t.Confidence > 0 {
				d.Confidence = t.Confidence
			}
		}
		out = append(out, d)
	}
	return out
}

// quantizeBox rounds coordinates to millipixel precision for map keying.
func quantizeBox(b [4]float64) [4]int64 {
	var q [4]int64
	for i, v := range b {
		q[i] = int64(math.Round(v * 1000))
	}
	return q
}
