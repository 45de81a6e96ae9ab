// Package imageio validates uploaded card images and prepares them for
// dispatch to the collaborator services.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/disintegration/imaging"
)

// DefaultMaxBytes is the upload size limit (10 MiB).
const DefaultMaxBytes = 10 << 20

// DefaultMaxDimension caps the longer image side before dispatch; larger
// uploads are downscaled to keep collaborator round trips bounded.
const DefaultMaxDimension = 2048

// Validation failures, surfaced to callers as invalid input (HTTP 400).
var (
	ErrTooLarge          = errors.New("image exceeds the maximum upload size")
	ErrUnsupportedFormat = errors.New("unsupported image format, expected JPEG or PNG")
	ErrNotAnImage        = errors.New("file is not a decodable image")
)

// Constraints bound what Prepare accepts and produces.
type Constraints struct {
	MaxBytes     int64
	MaxDimension int
}

// DefaultConstraints returns the standard upload constraints.
func DefaultConstraints() Constraints {
	return Constraints{MaxBytes: DefaultMaxBytes, MaxDimension: DefaultMaxDimension}
}

// SupportedContentType reports whether a declared MIME type is accepted.
// "image/jpg" is tolerated as a common alias for "image/jpeg".
func SupportedContentType(ct string) bool {
	switch ct {
	case "image/jpeg", "image/jpg", "image/png":
		return true
	}
	return false
}

// Prepare validates raw upload bytes and returns bytes ready for dispatch.
// The content type is sniffed from the data, never trusted from headers.
// Images whose longer side exceeds MaxDimension are downscaled
// proportionally and re-encoded as JPEG; everything else passes through
// unchanged.
func Prepare(data []byte, cons Constraints) ([]byte, error) {
	if cons.MaxBytes > 0 && int64(len(data)) > cons.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	sniffed := http.DetectContentType(data)
	if !SupportedContentType(sniffed) {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedFormat, sniffed)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}

	if cons.MaxDimension <= 0 || (cfg.Width <= cons.MaxDimension && cfg.Height <= cons.MaxDimension) {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	resized := imaging.Fit(img, cons.MaxDimension, cons.MaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("re-encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// IsInvalidInput reports whether err is a validation failure rather than a
// processing error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrTooLarge) || errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrNotAnImage)
}
