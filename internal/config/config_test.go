package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}

	if cfg.Tracking.ConfidenceThreshold != 0.5 {
		t.Errorf("confidence threshold = %v, want 0.5", cfg.Tracking.ConfidenceThreshold)
	}
	if cfg.Tracking.ExpireAfter != 0 {
		t.Errorf("expire_after = %v, want 0", cfg.Tracking.ExpireAfter)
	}
	if cfg.Alert.Cooldown != time.Second {
		t.Errorf("cooldown = %v, want 1s", cfg.Alert.Cooldown)
	}
	if cfg.Display.WindowTitle != "YOLOv8 - Object Detection" {
		t.Errorf("window title = %q", cfg.Display.WindowTitle)
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Model.Backend != BackendYOLO {
			t.Errorf("backend = %q, want yolo", cfg.Model.Backend)
		}
	})

	t.Run("overrides on top of defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "echosight.yaml")
		os.WriteFile(path, []byte(`
source: rtsp://cam.local/stream
model:
  backend: service
  command: ["python3", "detect.py"]
tracking:
  expire_after: 2s
alert:
  cooldown: 1500ms
  synthesizer: command
  synth_command: ["espeak-ng", "-w", "{out}", "{text}"]
server:
  addr: ":8080"
`), 0o644)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Source != "rtsp://cam.local/stream" {
			t.Errorf("source = %q", cfg.Source)
		}
		if cfg.Model.Backend != BackendService || len(cfg.Model.Command) != 2 {
			t.Errorf("model = %+v", cfg.Model)
		}
		if cfg.Tracking.ExpireAfter != 2*time.Second {
			t.Errorf("expire_after = %v, want 2s", cfg.Tracking.ExpireAfter)
		}
		if cfg.Alert.Cooldown != 1500*time.Millisecond {
			t.Errorf("cooldown = %v, want 1.5s", cfg.Alert.Cooldown)
		}
		if cfg.Server.Addr != ":8080" {
			t.Errorf("server.addr = %q", cfg.Server.Addr)
		}
		// Untouched keys keep their defaults
		if cfg.Tracking.ConfidenceThreshold != 0.5 {
			t.Errorf("confidence threshold = %v, want default 0.5", cfg.Tracking.ConfidenceThreshold)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("model: [unclosed"), 0o644)
		if _, err := Load(path); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown backend", mutate: func(c *Config) { c.Model.Backend = "tflite" }, wantErr: "model.backend"},
		{name: "service without command", mutate: func(c *Config) { c.Model.Backend = BackendService }, wantErr: "model.command"},
		{name: "threshold above one", mutate: func(c *Config) { c.Tracking.ConfidenceThreshold = 1.5 }, wantErr: "confidence_threshold"},
		{name: "short cleanup delay", mutate: func(c *Config) { c.Alert.CleanupDelay = time.Second }, wantErr: "cleanup_delay"},
		{name: "zero focal length", mutate: func(c *Config) { c.Distance.FocalLength = 0 }, wantErr: "focal_length"},
		{name: "negative expiry", mutate: func(c *Config) { c.Tracking.ExpireAfter = -time.Second }, wantErr: "expire_after"},
		{name: "tray with window", mutate: func(c *Config) { c.Tray.Enabled = true }, wantErr: "tray"},
		{name: "unknown synthesizer", mutate: func(c *Config) { c.Alert.Synthesizer = "festival" }, wantErr: "alert.synthesizer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Distance.ReferenceWidth = 0
	cfg.Distance.FocalLength = 0
	cfg.Alert.Language = ""

	errs := multierr.Errors(cfg.Validate())
	if len(errs) != 3 {
		t.Errorf("Validate() reported %d errors, want 3: %v", len(errs), errs)
	}
}
