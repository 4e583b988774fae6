package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/echosight/internal/alert"
	"github.com/ayusman/echosight/internal/app"
	"github.com/ayusman/echosight/internal/capture"
	"github.com/ayusman/echosight/internal/config"
	"github.com/ayusman/echosight/internal/detector"
	"github.com/ayusman/echosight/internal/distance"
	"github.com/ayusman/echosight/internal/logging"
	"github.com/ayusman/echosight/internal/metrics"
	"github.com/ayusman/echosight/internal/render"
	"github.com/ayusman/echosight/internal/server"
	"github.com/ayusman/echosight/internal/store"
	"github.com/ayusman/echosight/internal/tracking"
	"github.com/ayusman/echosight/internal/tray"
)

const serverShutdownTimeout = 5 * time.Second

// loadConfig reads the config file and applies the run flags on top.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return cfg, err
	}

	if c.IsSet(flagSource) {
		cfg.Source = c.String(flagSource)
	}
	if c.IsSet(flagModel) {
		cfg.Model.Path = c.String(flagModel)
	}
	if c.IsSet(flagLabels) {
		cfg.Model.Labels = c.String(flagLabels)
	}
	if c.IsSet(flagBackend) {
		cfg.Model.Backend = c.String(flagBackend)
	}
	if c.Bool(flagNoDisp) {
		cfg.Display.Enabled = false
	}
	if c.IsSet(flagAddr) {
		cfg.Server.Addr = c.String(flagAddr)
	}
	if c.Bool(flagTray) {
		cfg.Tray.Enabled = true
		cfg.Display.Enabled = false
	}
	if c.Bool(flagMute) {
		cfg.Alert.Enabled = false
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.IsSet(flagDB) {
		cfg.Store.Path = c.String(flagDB)
	}

	return cfg, cfg.Validate()
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	baseLogger, err := logging.New(level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer baseLogger.Sync()

	runID := uuid.NewString()
	logger := baseLogger.With("run_id", runID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, srv, err := build(cfg, runID, logger)
	if err != nil {
		logger.Errorw("Startup failed", "error", err)
		return fmt.Errorf("startup: %w", err)
	}

	if srv != nil {
		go func() {
			logger.Infow("Starting server", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(cfg.Server.Addr); err != nil {
				logger.Errorw("Server failed", "error", err)
			}
		}()
	}

	var runErr error
	if cfg.Tray.Enabled {
		runErr = runWithTray(ctx, stop, a, cfg.Alert.Enabled)
	} else {
		runErr = a.Run(ctx)
	}

	var errs error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		errs = multierr.Append(errs, srv.Shutdown(shutdownCtx))
		cancel()
	}
	errs = multierr.Append(errs, a.Close())
	if errs != nil {
		logger.Warnw("Shutdown errors", "error", errs)
	}

	return exitError(runErr)
}

// exitError maps the loop result to the command result. The frame source
// running dry is a normal end of a run.
func exitError(err error) error {
	if err == nil || errors.Is(err, app.ErrFrameRead) {
		return nil
	}
	return err
}

// runWithTray runs the tray on the calling goroutine and the loop beside it.
// Whichever stops first stops the other.
func runWithTray(ctx context.Context, stop context.CancelFunc, a *app.App, enabled bool) error {
	t := tray.New(enabled)
	t.OnToggle(a.SetAlertsEnabled)
	t.OnQuit(stop)
	a.AddObserver(t)

	done := make(chan error, 1)
	go func() {
		err := a.Run(ctx)
		t.Quit()
		done <- err
	}()

	t.Run()
	stop()
	return <-done
}

// build wires every component from cfg. On failure everything already
// created is released.
func build(cfg config.Config, runID string, logger *zap.SugaredLogger) (a *app.App, srv *server.Server, err error) {
	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				err = multierr.Append(err, closers[i].Close())
			}
		}
	}()

	path, err := storePath("", cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open calibration store: %w", err)
	}
	closers = append(closers, st)

	estimator, err := loadEstimator(st, cfg.Distance, logger)
	if err != nil {
		return nil, nil, err
	}

	det, err := newDetector(cfg.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize detector: %w", err)
	}
	closers = append(closers, det)

	m := metrics.New()

	announcer, err := newAnnouncer(cfg.Alert, m, logger.Named("alert"))
	if err != nil {
		return nil, nil, fmt.Errorf("initialize audio: %w", err)
	}

	var display render.Display
	if cfg.Display.Enabled {
		display = render.NewWindowDisplay(cfg.Display.WindowTitle)
	} else {
		display = render.NewHeadlessDisplay()
	}
	closers = append(closers, display)

	a, err = app.New(app.Config{
		Camera:              capture.NewCamera(capture.ParseSource(cfg.Source)),
		Detector:            det,
		Display:             display,
		Estimator:           estimator,
		Registry:            tracking.NewRegistry(cfg.Tracking.ExpireAfter),
		Throttler:           alert.NewThrottler(cfg.Alert.Cooldown),
		Announcer:           announcer,
		Metrics:             m,
		Logger:              logger,
		Closers:             []io.Closer{st},
		RunID:               runID,
		ConfidenceThreshold: cfg.Tracking.ConfidenceThreshold,
		AlertsEnabled:       cfg.Alert.Enabled,
	})
	if err != nil {
		announcer.Close(context.Background())
		return nil, nil, err
	}

	if cfg.Server.Addr != "" {
		srv = server.New(server.Config{
			StaticDir:  findWebDir(),
			Controller: a,
			Metrics:    m,
			Store:      st,
			Widths:     estimator,
			Logger:     logger.Named("server"),
		})
		a.AddObserver(srv)
	}

	return a, srv, nil
}

// loadEstimator builds the estimator from cfg and the stored calibration.
func loadEstimator(st *store.Store, cfg config.DistanceConfig, logger *zap.SugaredLogger) (*distance.Estimator, error) {
	focal := cfg.FocalLength
	stored, err := st.Settings().FocalLength()
	switch {
	case err == nil:
		focal = stored
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load focal length: %w", err)
	}

	estimator := distance.NewEstimator(cfg.ReferenceWidth, focal)

	widths, err := st.Calibration().List()
	if err != nil {
		return nil, fmt.Errorf("load reference widths: %w", err)
	}
	for _, w := range widths {
		estimator.SetReferenceWidth(w.Label, w.Meters)
	}

	logger.Infow("Calibration loaded", "focal_length", estimator.FocalLength(), "widths", len(widths))
	return estimator, nil
}

func newDetector(cfg config.ModelConfig) (detector.Detector, error) {
	var labels []string
	if cfg.Labels != "" {
		var err error
		labels, err = detector.LoadLabels(cfg.Labels)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Backend == config.BackendService {
		d, err := detector.NewServiceDetector(cfg.Command, labels, detector.DefaultIdleTimeout)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	d, err := detector.NewYOLODetector(cfg.Path, labels, detector.Config{
		InputSize:      cfg.InputSize,
		ScoreThreshold: cfg.ScoreThreshold,
		NMSThreshold:   cfg.NMSThreshold,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newAnnouncer(cfg config.AlertConfig, m *metrics.Metrics, logger *zap.SugaredLogger) (*alert.Announcer, error) {
	var synth alert.Synthesizer
	switch cfg.Synthesizer {
	case config.SynthCommand:
		cs := alert.NewCommandSynthesizer(cfg.SynthCommand, alert.DefaultSynthTimeout)
		if err := cs.Init(); err != nil {
			return nil, err
		}
		synth = cs
	default:
		synth = alert.NewGoogleSynthesizer(alert.DefaultSynthTimeout)
	}

	player := alert.NewCommandPlayer(cfg.PlayerCommand, cfg.PlaybackTimeout)
	if err := player.Init(); err != nil {
		return nil, err
	}

	return alert.NewAnnouncer(alert.Config{
		Synthesizer:  synth,
		Player:       player,
		Language:     cfg.Language,
		CleanupDelay: cfg.CleanupDelay,
		Logger:       logger,
		OnFailure:    m.AlertFailed,
	})
}
