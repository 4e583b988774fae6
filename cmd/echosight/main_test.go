package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ayusman/echosight/internal/app"
	"github.com/ayusman/echosight/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	a := newApp()
	a.Writer = &out
	a.ErrWriter = &out
	err := a.Run(append([]string{"echosight"}, args...))
	return out.String(), err
}

func TestCalibrateCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "data", "echosight.db")

	if _, err := runCLI(t, "calibrate", "--db", db, "set", "cat", "0.3"); err != nil {
		t.Fatalf("calibrate set error = %v", err)
	}
	if _, err := runCLI(t, "calibrate", "--db", db, "focal", "600"); err != nil {
		t.Fatalf("calibrate focal error = %v", err)
	}

	out, err := runCLI(t, "calibrate", "--db", db, "list")
	if err != nil {
		t.Fatalf("calibrate list error = %v", err)
	}
	if !strings.Contains(out, "cat") || !strings.Contains(out, "0.300") {
		t.Errorf("list output missing cat width:\n%s", out)
	}
	if !strings.Contains(out, "focal length: 600.0 px") {
		t.Errorf("list output missing focal length:\n%s", out)
	}

	if _, err := runCLI(t, "calibrate", "--db", db, "delete", "cat"); err != nil {
		t.Fatalf("calibrate delete error = %v", err)
	}
	if _, err := runCLI(t, "calibrate", "--db", db, "delete", "cat"); err == nil {
		t.Error("deleting a missing label should fail")
	}

	t.Run("rejects bad arguments", func(t *testing.T) {
		tests := [][]string{
			{"calibrate", "--db", db, "set", "cat"},
			{"calibrate", "--db", db, "set", "cat", "wide"},
			{"calibrate", "--db", db, "set", "cat", "-1"},
			{"calibrate", "--db", db, "focal", "0"},
			{"calibrate", "--db", db, "delete"},
		}
		for _, args := range tests {
			if _, err := runCLI(t, args...); err == nil {
				t.Errorf("%v: expected error", args)
			}
		}
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "echosight.yaml")
	yaml := "source: video.mp4\nalert:\n  cooldown: 3s\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	load := func(args ...string) (config.Config, error) {
		var cfg config.Config
		var loadErr error
		a := &cli.App{
			Flags: []cli.Flag{&cli.StringFlag{Name: flagConfig}},
			Commands: []*cli.Command{{
				Name:  "run",
				Flags: runFlags(),
				Action: func(c *cli.Context) error {
					cfg, loadErr = loadConfig(c)
					return nil
				},
			}},
		}
		if err := a.Run(append([]string{"echosight"}, args...)); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return cfg, loadErr
	}

	t.Run("file values", func(t *testing.T) {
		cfg, err := load("--config", path, "run")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Source != "video.mp4" || cfg.Alert.Cooldown != 3*time.Second || cfg.Log.Level != "debug" {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if !cfg.Display.Enabled {
			t.Error("display should stay enabled by default")
		}
	})

	t.Run("flags override file", func(t *testing.T) {
		cfg, err := load("--config", path, "run",
			"--source", "1", "--model", "m.onnx", "--labels", "l.names",
			"--addr", ":9090", "--mute", "--log-level", "warn")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Source != "1" || cfg.Model.Path != "m.onnx" || cfg.Model.Labels != "l.names" {
			t.Errorf("model flags not applied: %+v", cfg.Model)
		}
		if cfg.Server.Addr != ":9090" || cfg.Alert.Enabled || cfg.Log.Level != "warn" {
			t.Errorf("flags not applied: %+v", cfg)
		}
	})

	t.Run("tray disables display", func(t *testing.T) {
		cfg, err := load("run", "--tray")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if !cfg.Tray.Enabled || cfg.Display.Enabled {
			t.Errorf("tray = %v display = %v, want tray only", cfg.Tray.Enabled, cfg.Display.Enabled)
		}
	})

	t.Run("invalid backend", func(t *testing.T) {
		if _, err := load("run", "--backend", "tflite"); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestExitError(t *testing.T) {
	if exitError(nil) != nil {
		t.Error("nil should stay nil")
	}
	if err := exitError(fmt.Errorf("%w: %w", app.ErrFrameRead, errors.New("eof"))); err != nil {
		t.Errorf("end of frames should exit cleanly, got %v", err)
	}
	boom := errors.New("open frame source: no camera")
	if !errors.Is(exitError(boom), boom) {
		t.Error("other errors must be returned")
	}
}

func TestStorePath(t *testing.T) {
	dir := t.TempDir()

	flag := filepath.Join(dir, "flag", "a.db")
	got, err := storePath(flag, filepath.Join(dir, "cfg", "b.db"))
	if err != nil {
		t.Fatalf("storePath() error = %v", err)
	}
	if got != flag {
		t.Errorf("storePath() = %q, want the flag value", got)
	}
	if info, err := os.Stat(filepath.Dir(flag)); err != nil || !info.IsDir() {
		t.Error("parent directory was not created")
	}

	configured := filepath.Join(dir, "cfg", "b.db")
	if got, _ := storePath("", configured); got != configured {
		t.Errorf("storePath() = %q, want the configured path", got)
	}
}
