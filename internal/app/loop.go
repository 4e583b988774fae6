package app

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/echosight/internal/alert"
	"github.com/ayusman/echosight/internal/detector"
	"github.com/ayusman/echosight/internal/metrics"
	"github.com/ayusman/echosight/internal/render"
	"github.com/ayusman/echosight/internal/tracking"
)

// Run opens the camera and processes frames until ESC is pressed, ctx is
// cancelled or the source stops delivering frames. The last case returns an
// error wrapping ErrFrameRead. Run does not release resources; call Close.
func (a *App) Run(ctx context.Context) error {
	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}

	a.logger.Infow("Object detection started", "threshold", a.config.ConfidenceThreshold,
		"cooldown", a.throttler.Cooldown(), "expire_after", a.registry.ExpireAfter())
	a.logger.Info("Press ESC to exit")

	for {
		select {
		case <-ctx.Done():
			a.logger.Infow("Stopping", "reason", ctx.Err())
			return nil
		default:
		}

		frame, err := a.camera.ReadFrame()
		if err != nil {
			a.logger.Infow("Frame source ended", "error", err)
			return fmt.Errorf("%w: %w", ErrFrameRead, err)
		}

		stop := a.processFrame(frame)
		frame.Close()

		if stop {
			a.logger.Info("ESC pressed, stopping")
			return nil
		}
	}
}

// candidate is a qualifying detection waiting for reconciliation.
type candidate struct {
	confidence float64
	distance   float64
}

// processFrame runs one loop iteration on frame and reports whether the user
// asked to stop.
func (a *App) processFrame(frame *gocv.Mat) bool {
	start := a.clock.Now()

	detections, err := a.detector.Detect(frame)
	if err != nil {
		a.logger.Warnw("Detection failed, skipping frame", "error", err)
		a.metrics.FrameErrors.Inc()
		return a.present(frame)
	}

	now := a.clock.Now()
	overlays := make([]render.Overlay, 0, len(detections))
	observations := make([]tracking.Observation, 0, len(detections))
	candidates := make(map[tracking.Key]candidate, len(detections))

	for _, d := range detections {
		if err := d.Validate(); err != nil {
			a.logSkipped(d, err)
			a.metrics.Detection(metrics.DetectionSkipped)
			continue
		}

		dist := a.estimator.EstimateFor(d.Label, d.Width())
		overlays = append(overlays, render.Overlay{
			Label:      d.Label,
			Confidence: d.Confidence,
			Distance:   dist,
			Box:        d.Box,
		})

		if d.Confidence <= a.config.ConfidenceThreshold {
			a.metrics.Detection(metrics.DetectionBelowThreshold)
			continue
		}
		a.metrics.Detection(metrics.DetectionValid)

		key := tracking.KeyOf(d.Label, d.Box)
		if _, dup := candidates[key]; dup {
			continue
		}
		candidates[key] = candidate{confidence: d.Confidence, distance: dist}
		observations = append(observations, tracking.Observation{Key: key, Label: d.Label})
	}

	for _, ev := range a.registry.Reconcile(now, observations) {
		c := candidates[ev.Key]
		a.handleNewObject(Event{
			Key:        ev.Key.String(),
			Label:      ev.Label,
			Confidence: c.confidence,
			Distance:   c.distance,
			Time:       now,
		})
	}
	a.metrics.TrackedObjects.Set(float64(a.registry.Len()))

	a.mu.Lock()
	a.frames++
	a.mu.Unlock()

	render.Draw(frame, overlays)
	stop := a.present(frame)

	a.metrics.ObserveFrame(a.clock.Since(start))
	return stop
}

// handleNewObject alerts for ev when allowed and notifies observers.
func (a *App) handleNewObject(ev Event) {
	a.metrics.NewObjects.Inc()
	a.logger.Infow("New object", "key", ev.Key, "label", ev.Label,
		"confidence", ev.Confidence, "distance", ev.Distance)

	switch {
	case !a.AlertsEnabled() || a.announcer == nil:
		a.metrics.AlertsSuppressed.Inc()
	case !a.throttler.TryAlert(ev.Time):
		a.metrics.AlertsSuppressed.Inc()
		a.logger.Debugw("Alert suppressed by cooldown", "key", ev.Key)
	default:
		id, err := a.announcer.Announce(ev.Label, ev.Distance)
		if err != nil {
			a.logger.Warnw("Alert not dispatched", "key", ev.Key, "error", err)
			break
		}
		ev.Alerted = true
		ev.AlertID = id
		a.metrics.AlertsDispatched.Inc()

		a.mu.Lock()
		a.lastObject = ev.Label
		a.mu.Unlock()
	}

	for _, o := range a.snapshotObservers() {
		o.ObserveEvent(ev)
	}
}

// present shows frame, hands it to observers and polls for ESC.
func (a *App) present(frame *gocv.Mat) bool {
	a.display.Show(frame)
	for _, o := range a.snapshotObservers() {
		o.ObserveFrame(frame)
	}
	return a.display.PollKey() == render.KeyEsc
}

func (a *App) snapshotObservers() []Observer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.observers
}

func (a *App) logSkipped(d detector.Detection, err error) {
	if errors.Is(err, detector.ErrUnknownClass) {
		a.logger.Warnw("Skipping detection", "class_id", d.ClassID, "error", err)
		return
	}
	a.logger.Debugw("Skipping detection", "label", d.Label, "box", d.Box, "error", err)
}

var _ Announcer = (*alert.Announcer)(nil)
