// Package detector provides object detection interfaces, types and backends.
package detector

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Errors returned by Detection.Validate.
var (
	ErrMalformedBox      = errors.New("malformed bounding box")
	ErrInvalidConfidence = errors.New("confidence out of range")
	ErrUnknownClass      = errors.New("unknown class")
)

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns the detected objects.
	// Returns an empty slice if nothing is detected.
	Detect(frame *gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Detection is a single object found in a frame.
type Detection struct {
	ClassID    int             `json:"class_id"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Width returns the pixel width of the bounding box.
func (d Detection) Width() int {
	return d.Box.Max.X - d.Box.Min.X
}

// Validate checks that the detection has a label, a confidence in [0,1] and a
// box with x1<x2 and y1<y2.
func (d Detection) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("%w: id %d", ErrUnknownClass, d.ClassID)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidConfidence, d.Confidence)
	}
	if d.Box.Min.X >= d.Box.Max.X || d.Box.Min.Y >= d.Box.Max.Y {
		return fmt.Errorf("%w: %v", ErrMalformedBox, d.Box)
	}
	return nil
}

// Config holds configuration options for object detection.
type Config struct {
	// InputSize is the square model input resolution in pixels (default: 640).
	InputSize int

	// ScoreThreshold is the minimum class score for a candidate box (0.0-1.0).
	ScoreThreshold float32

	// NMSThreshold is the maximum IoU allowed between two kept boxes (0.0-1.0).
	NMSThreshold float32
}

// DefaultConfig returns a Config with sensible default values for YOLOv8 models
// trained on COCO.
func DefaultConfig() Config {
	return Config{
		InputSize:      640,
		ScoreThreshold: 0.25,
		NMSThreshold:   0.45,
	}
}
