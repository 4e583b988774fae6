// Package distance approximates how far away a detected object is from the
// width of its bounding box, using the pinhole camera model.
package distance

import (
	"fmt"
	"sync"
)

// Unknown is returned when a distance cannot be computed.
const Unknown = -1.0

// Defaults used when no calibration is available.
const (
	// DefaultReferenceWidth is the assumed real-world object width in meters.
	DefaultReferenceWidth = 0.5
	// DefaultFocalLength is the approximate camera focal length in pixels.
	DefaultFocalLength = 500.0
)

// Estimator converts pixel widths into distances in meters.
// distance = referenceWidth * focalLength / pixelWidth
type Estimator struct {
	referenceWidth float64
	focalLength    float64

	mu     sync.RWMutex
	widths map[string]float64
}

// NewEstimator creates an Estimator. Non-positive arguments fall back to the defaults.
func NewEstimator(referenceWidth, focalLength float64) *Estimator {
	if referenceWidth <= 0 {
		referenceWidth = DefaultReferenceWidth
	}
	if focalLength <= 0 {
		focalLength = DefaultFocalLength
	}
	return &Estimator{
		referenceWidth: referenceWidth,
		focalLength:    focalLength,
		widths:         make(map[string]float64),
	}
}

// Estimate returns the distance for an object of the default reference width,
// or Unknown if pixelWidth is not positive.
func (e *Estimator) Estimate(pixelWidth int) float64 {
	return e.estimate(e.referenceWidth, pixelWidth)
}

// EstimateFor is like Estimate but uses the calibrated width for label when one is set.
func (e *Estimator) EstimateFor(label string, pixelWidth int) float64 {
	return e.estimate(e.ReferenceWidth(label), pixelWidth)
}

func (e *Estimator) estimate(width float64, pixelWidth int) float64 {
	if pixelWidth <= 0 {
		return Unknown
	}
	return width * e.focalLength / float64(pixelWidth)
}

// SetReferenceWidth calibrates the real-world width of objects labelled label.
// Non-positive widths remove the calibration.
func (e *Estimator) SetReferenceWidth(label string, meters float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if meters <= 0 {
		delete(e.widths, label)
		return
	}
	e.widths[label] = meters
}

// ReferenceWidth returns the width used for label.
func (e *Estimator) ReferenceWidth(label string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if w, ok := e.widths[label]; ok {
		return w
	}
	return e.referenceWidth
}

// FocalLength returns the configured focal length in pixels.
func (e *Estimator) FocalLength() float64 {
	return e.focalLength
}

// IsKnown reports whether d is a real distance rather than the Unknown sentinel.
func IsKnown(d float64) bool {
	return d >= 0
}

// Format renders d with one decimal, or "unknown".
func Format(d float64) string {
	if !IsKnown(d) {
		return "unknown"
	}
	return fmt.Sprintf("%.1f", d)
}
