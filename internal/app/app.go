// Package app runs the echosight perception loop: frames are detected,
// matched against the identity registry and newly appeared objects are
// announced.
package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/echosight/internal/alert"
	"github.com/ayusman/echosight/internal/capture"
	"github.com/ayusman/echosight/internal/detector"
	"github.com/ayusman/echosight/internal/distance"
	"github.com/ayusman/echosight/internal/metrics"
	"github.com/ayusman/echosight/internal/render"
	"github.com/ayusman/echosight/internal/tracking"
)

// DefaultConfidenceThreshold is the confidence a detection must exceed to be tracked.
const DefaultConfidenceThreshold = 0.5

// DefaultShutdownTimeout bounds how long Close waits for alerts in flight.
const DefaultShutdownTimeout = 5 * time.Second

// ErrFrameRead ends the loop when the frame source stops delivering frames.
var ErrFrameRead = errors.New("frame read failed")

// Announcer speaks alerts in the background.
type Announcer interface {
	Announce(label string, distanceMeters float64) (string, error)
	Close(ctx context.Context) error
}

// Observer receives what the loop produces. Calls happen on the loop
// goroutine, so implementations must return quickly.
type Observer interface {
	// ObserveFrame receives the annotated frame. It must not keep the Mat.
	ObserveFrame(frame *gocv.Mat)

	// ObserveEvent receives every new-object event.
	ObserveEvent(ev Event)
}

// Event describes an object that entered the registry.
type Event struct {
	Key        string    `json:"key"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Distance   float64   `json:"distance_m"`
	Alerted    bool      `json:"alerted"`
	AlertID    string    `json:"alert_id,omitempty"`
	Time       time.Time `json:"time"`
}

// Status is a point-in-time view of the loop.
type Status struct {
	RunID         string                   `json:"run_id"`
	Frames        uint64                   `json:"frames"`
	AlertsEnabled bool                     `json:"alerts_enabled"`
	LastAlert     *time.Time               `json:"last_alert,omitempty"`
	LastObject    string                   `json:"last_object,omitempty"`
	Tracked       []tracking.TrackedObject `json:"tracked"`
}

// Config holds the collaborators and settings of an App.
type Config struct {
	Camera    capture.Camera
	Detector  detector.Detector
	Display   render.Display
	Estimator *distance.Estimator
	Registry  *tracking.Registry
	Throttler *alert.Throttler
	Announcer Announcer
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    *zap.SugaredLogger

	// Closers are released last by Close, e.g. the calibration store.
	Closers []io.Closer

	RunID               string
	ConfidenceThreshold float64
	AlertsEnabled       bool
	ShutdownTimeout     time.Duration
}

// App is the main application that owns the perception loop.
type App struct {
	config    Config
	camera    capture.Camera
	detector  detector.Detector
	display   render.Display
	estimator *distance.Estimator
	registry  *tracking.Registry
	throttler *alert.Throttler
	announcer Announcer
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *zap.SugaredLogger

	mu            sync.RWMutex
	observers     []Observer
	alertsEnabled bool
	lastObject    string
	frames        uint64

	closeOnce sync.Once
	closeErr  error
}

// New creates an App. Camera and Detector are required; everything else has
// a default.
func New(config Config) (*App, error) {
	if config.Camera == nil {
		return nil, errors.New("app requires a camera")
	}
	if config.Detector == nil {
		return nil, errors.New("app requires a detector")
	}
	if config.Display == nil {
		config.Display = render.NewHeadlessDisplay()
	}
	if config.Estimator == nil {
		config.Estimator = distance.NewEstimator(distance.DefaultReferenceWidth, distance.DefaultFocalLength)
	}
	if config.Registry == nil {
		config.Registry = tracking.NewRegistry(0)
	}
	if config.Throttler == nil {
		config.Throttler = alert.NewThrottler(alert.DefaultCooldown)
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &App{
		config:        config,
		camera:        config.Camera,
		detector:      config.Detector,
		display:       config.Display,
		estimator:     config.Estimator,
		registry:      config.Registry,
		throttler:     config.Throttler,
		announcer:     config.Announcer,
		metrics:       config.Metrics,
		clock:         config.Clock,
		logger:        config.Logger,
		alertsEnabled: config.AlertsEnabled,
	}, nil
}

// AddObserver registers o to receive frames and events. Call before Run.
func (a *App) AddObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// SetAlertsEnabled mutes or unmutes spoken alerts.
func (a *App) SetAlertsEnabled(enabled bool) {
	a.mu.Lock()
	changed := a.alertsEnabled != enabled
	a.alertsEnabled = enabled
	a.mu.Unlock()

	if changed {
		a.logger.Infow("Alerts toggled", "enabled", enabled)
	}
}

// AlertsEnabled reports whether spoken alerts are on.
func (a *App) AlertsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.alertsEnabled
}

// Status returns a snapshot of the loop state.
func (a *App) Status() Status {
	a.mu.RLock()
	s := Status{
		RunID:         a.config.RunID,
		Frames:        a.frames,
		AlertsEnabled: a.alertsEnabled,
		LastObject:    a.lastObject,
	}
	a.mu.RUnlock()

	if t, ok := a.throttler.LastAlert(); ok {
		s.LastAlert = &t
	}
	s.Tracked = a.registry.Snapshot()
	return s
}

// Registry returns the identity registry.
func (a *App) Registry() *tracking.Registry {
	return a.registry
}

// Close releases every resource the App owns: pending alerts first, then
// the display, detector, camera and extra closers. It is safe to call more
// than once; later calls return the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.logger.Info("Cleaning up...")

		var errs error
		if a.announcer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
			errs = multierr.Append(errs, a.announcer.Close(ctx))
			cancel()
		}
		errs = multierr.Append(errs, a.display.Close())
		errs = multierr.Append(errs, a.detector.Close())
		errs = multierr.Append(errs, a.camera.Close())
		for _, c := range a.config.Closers {
			errs = multierr.Append(errs, c.Close())
		}

		if errs != nil {
			a.logger.Warnw("Cleanup finished with errors", "error", errs)
		}
		a.logger.Info("Program finished")
		a.closeErr = errs
	})
	return a.closeErr
}
