// Package config loads and validates echosight settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Detector backends
const (
	BackendYOLO    = "yolo"
	BackendService = "service"
)

// Synthesizers
const (
	SynthGoogle  = "google"
	SynthCommand = "command"
)

// MinCleanupDelay is the shortest time a clip is kept before deletion.
const MinCleanupDelay = 2 * time.Second

// Config contains every echosight setting.
type Config struct {
	Source   string         `yaml:"source"` // device index, video file or stream url
	Model    ModelConfig    `yaml:"model"`
	Tracking TrackingConfig `yaml:"tracking"`
	Distance DistanceConfig `yaml:"distance"`
	Alert    AlertConfig    `yaml:"alert"`
	Display  DisplayConfig  `yaml:"display"`
	Server   ServerConfig   `yaml:"server"`
	Tray     TrayConfig     `yaml:"tray"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

// ModelConfig selects and tunes the detector.
type ModelConfig struct {
	Backend        string   `yaml:"backend"`         // yolo or service
	Path           string   `yaml:"path"`            // onnx export for the yolo backend
	Labels         string   `yaml:"labels"`          // class names, one per line
	InputSize      int      `yaml:"input_size"`      // square model input in pixels
	ScoreThreshold float32  `yaml:"score_threshold"` // candidate box cut before NMS
	NMSThreshold   float32  `yaml:"nms_threshold"`   // IoU above which boxes are merged
	Command        []string `yaml:"command"`         // detection service argv for the service backend
}

// TrackingConfig controls the identity registry.
type TrackingConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"` // detections must be strictly above this
	ExpireAfter         time.Duration `yaml:"expire_after"`         // 0 drops objects the first frame they are missing
}

// DistanceConfig holds the pinhole camera constants.
type DistanceConfig struct {
	ReferenceWidth float64 `yaml:"reference_width"` // meters
	FocalLength    float64 `yaml:"focal_length"`    // pixels
}

// AlertConfig controls spoken alerts.
type AlertConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Cooldown        time.Duration `yaml:"cooldown"`
	CleanupDelay    time.Duration `yaml:"cleanup_delay"`
	Language        string        `yaml:"language"`
	Synthesizer     string        `yaml:"synthesizer"` // google or command
	SynthCommand    []string      `yaml:"synth_command"`
	PlayerCommand   []string      `yaml:"player_command"`
	PlaybackTimeout time.Duration `yaml:"playback_timeout"`
}

// DisplayConfig controls the live window.
type DisplayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	WindowTitle string `yaml:"window_title"`
}

// ServerConfig controls the HTTP surface. An empty address disables it.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TrayConfig controls the system tray.
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StoreConfig locates the calibration database. An empty path uses
// ~/.echosight/echosight.db.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with the stock settings.
func Default() Config {
	return Config{
		Source: "0",
		Model: ModelConfig{
			Backend:        BackendYOLO,
			Path:           "yolov8n.onnx",
			Labels:         "coco.names",
			InputSize:      640,
			ScoreThreshold: 0.25,
			NMSThreshold:   0.45,
		},
		Tracking: TrackingConfig{
			ConfidenceThreshold: 0.5,
		},
		Distance: DistanceConfig{
			ReferenceWidth: 0.5,
			FocalLength:    500,
		},
		Alert: AlertConfig{
			Enabled:         true,
			Cooldown:        time.Second,
			CleanupDelay:    MinCleanupDelay,
			Language:        "en",
			Synthesizer:     SynthGoogle,
			PlaybackTimeout: 30 * time.Second,
		},
		Display: DisplayConfig{
			Enabled:     true,
			WindowTitle: "YOLOv8 - Object Detection",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a yaml file on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var err error

	switch c.Model.Backend {
	case BackendYOLO:
		if c.Model.Path == "" {
			err = multierr.Append(err, errors.New("model.path is required for the yolo backend"))
		}
		if c.Model.Labels == "" {
			err = multierr.Append(err, errors.New("model.labels is required for the yolo backend"))
		}
	case BackendService:
		if len(c.Model.Command) == 0 {
			err = multierr.Append(err, errors.New("model.command is required for the service backend"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("model.backend %q is not one of yolo, service", c.Model.Backend))
	}
	if c.Model.InputSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("model.input_size must be positive, got %d", c.Model.InputSize))
	}
	if !inUnit(float64(c.Model.ScoreThreshold)) {
		err = multierr.Append(err, fmt.Errorf("model.score_threshold must be in [0,1], got %v", c.Model.ScoreThreshold))
	}
	if !inUnit(float64(c.Model.NMSThreshold)) {
		err = multierr.Append(err, fmt.Errorf("model.nms_threshold must be in [0,1], got %v", c.Model.NMSThreshold))
	}

	if !inUnit(c.Tracking.ConfidenceThreshold) {
		err = multierr.Append(err, fmt.Errorf("tracking.confidence_threshold must be in [0,1], got %v", c.Tracking.ConfidenceThreshold))
	}
	if c.Tracking.ExpireAfter < 0 {
		err = multierr.Append(err, fmt.Errorf("tracking.expire_after must not be negative, got %v", c.Tracking.ExpireAfter))
	}

	if c.Distance.ReferenceWidth <= 0 {
		err = multierr.Append(err, fmt.Errorf("distance.reference_width must be positive, got %v", c.Distance.ReferenceWidth))
	}
	if c.Distance.FocalLength <= 0 {
		err = multierr.Append(err, fmt.Errorf("distance.focal_length must be positive, got %v", c.Distance.FocalLength))
	}

	if c.Alert.Cooldown < 0 {
		err = multierr.Append(err, fmt.Errorf("alert.cooldown must not be negative, got %v", c.Alert.Cooldown))
	}
	if c.Alert.CleanupDelay < MinCleanupDelay {
		err = multierr.Append(err, fmt.Errorf("alert.cleanup_delay must be at least %v, got %v", MinCleanupDelay, c.Alert.CleanupDelay))
	}
	if c.Alert.Language == "" {
		err = multierr.Append(err, errors.New("alert.language is required"))
	}
	switch c.Alert.Synthesizer {
	case SynthGoogle, SynthCommand:
	default:
		err = multierr.Append(err, fmt.Errorf("alert.synthesizer %q is not one of google, command", c.Alert.Synthesizer))
	}
	if c.Alert.PlaybackTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("alert.playback_timeout must be positive, got %v", c.Alert.PlaybackTimeout))
	}

	if c.Tray.Enabled && c.Display.Enabled {
		err = multierr.Append(err, errors.New("display and tray cannot both be enabled; the tray owns the main thread"))
	}

	return err
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
