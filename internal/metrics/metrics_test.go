package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveFrame(20 * time.Millisecond)
	m.ObserveFrame(30 * time.Millisecond)
	m.Detection(DetectionValid)
	m.Detection(DetectionValid)
	m.Detection(DetectionBelowThreshold)
	m.AlertFailed("play")
	m.TrackedObjects.Set(3)

	if got := testutil.ToFloat64(m.FramesProcessed); got != 2 {
		t.Errorf("frames processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Detections.WithLabelValues(DetectionValid)); got != 2 {
		t.Errorf("valid detections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Detections.WithLabelValues(DetectionBelowThreshold)); got != 1 {
		t.Errorf("below threshold detections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AlertsFailed.WithLabelValues("play")); got != 1 {
		t.Errorf("failed alerts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TrackedObjects); got != 3 {
		t.Errorf("tracked objects = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.FrameDuration); got != 1 {
		t.Errorf("frame duration series = %d, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.NewObjects.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "echosight_new_objects_total 1") {
		t.Errorf("metrics output missing new objects counter:\n%s", body)
	}
}

func TestMetrics_Independent(t *testing.T) {
	a, b := New(), New()
	a.NewObjects.Inc()

	if got := testutil.ToFloat64(b.NewObjects); got != 0 {
		t.Errorf("second instance counter = %v, want 0", got)
	}
}
