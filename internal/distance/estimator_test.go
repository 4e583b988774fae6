package distance

import (
	"math"
	"testing"
)

func TestEstimator_Estimate(t *testing.T) {
	e := NewEstimator(0.5, 500)

	tests := []struct {
		name       string
		pixelWidth int
		want       float64
	}{
		{name: "one meter", pixelWidth: 250, want: 1.0},
		{name: "half meter", pixelWidth: 500, want: 0.5},
		{name: "single pixel", pixelWidth: 1, want: 250},
		{name: "zero width", pixelWidth: 0, want: Unknown},
		{name: "negative width", pixelWidth: -20, want: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Estimate(tt.pixelWidth)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Estimate(%d) = %f, want %f", tt.pixelWidth, got, tt.want)
			}
		})
	}
}

func TestEstimator_StrictlyDecreasing(t *testing.T) {
	e := NewEstimator(0, 0)

	prev := e.Estimate(1)
	if prev <= 0 {
		t.Fatalf("Estimate(1) = %f, want positive", prev)
	}
	for w := 2; w <= 4096; w++ {
		got := e.Estimate(w)
		if got <= 0 {
			t.Fatalf("Estimate(%d) = %f, want positive", w, got)
		}
		if got >= prev {
			t.Fatalf("Estimate(%d) = %f, not less than Estimate(%d) = %f", w, got, w-1, prev)
		}
		prev = got
	}
}

func TestEstimator_Defaults(t *testing.T) {
	e := NewEstimator(-1, 0)

	if got := e.ReferenceWidth("anything"); got != DefaultReferenceWidth {
		t.Errorf("ReferenceWidth() = %f, want %f", got, DefaultReferenceWidth)
	}
	if got := e.FocalLength(); got != DefaultFocalLength {
		t.Errorf("FocalLength() = %f, want %f", got, DefaultFocalLength)
	}
}

func TestEstimator_EstimateFor(t *testing.T) {
	e := NewEstimator(0.5, 500)
	e.SetReferenceWidth("car", 1.8)

	if got := e.EstimateFor("car", 900); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("EstimateFor(car, 900) = %f, want 1.0", got)
	}
	if got := e.EstimateFor("cat", 250); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("EstimateFor(cat, 250) = %f, want 1.0 (default width)", got)
	}
	if got := e.EstimateFor("car", 0); got != Unknown {
		t.Errorf("EstimateFor(car, 0) = %f, want Unknown", got)
	}

	// Removing the calibration restores the default width
	e.SetReferenceWidth("car", 0)
	if got := e.ReferenceWidth("car"); got != 0.5 {
		t.Errorf("ReferenceWidth(car) after removal = %f, want 0.5", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(1.26); got != "1.3" {
		t.Errorf("Format(1.26) = %q, want %q", got, "1.3")
	}
	if got := Format(Unknown); got != "unknown" {
		t.Errorf("Format(Unknown) = %q, want %q", got, "unknown")
	}
	if IsKnown(Unknown) {
		t.Error("IsKnown(Unknown) should be false")
	}
}
