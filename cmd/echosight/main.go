// Package main is the echosight command.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig   = "config"
	flagSource   = "source"
	flagModel    = "model"
	flagLabels   = "labels"
	flagBackend  = "backend"
	flagNoDisp   = "no-display"
	flagAddr     = "addr"
	flagTray     = "tray"
	flagMute     = "mute"
	flagLogLevel = "log-level"
	flagDB       = "db"

	dataDirName = ".echosight"
	dbFileName  = "echosight.db"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "echosight:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "echosight",
		Usage: "announce objects as they appear in front of the camera",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the detection loop",
				Flags:  runFlags(),
				Action: runAction,
			},
			{
				Name:  "calibrate",
				Usage: "manage per-label reference widths",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDB, Usage: "calibration database `FILE`"},
				},
				Subcommands: []*cli.Command{
					{
						Name:      "set",
						Usage:     "set the real width of a label in meters",
						ArgsUsage: "<label> <meters>",
						Action:    calibrateSetAction,
					},
					{
						Name:   "list",
						Usage:  "list calibrated widths and the focal length",
						Action: calibrateListAction,
					},
					{
						Name:      "delete",
						Usage:     "remove the width of a label",
						ArgsUsage: "<label>",
						Action:    calibrateDeleteAction,
					},
					{
						Name:      "focal",
						Usage:     "set the camera focal length in pixels",
						ArgsUsage: "<pixels>",
						Action:    calibrateFocalAction,
					},
				},
			},
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagSource, Usage: "camera index, video file or stream `URL`"},
		&cli.StringFlag{Name: flagModel, Usage: "YOLOv8 ONNX model `FILE`"},
		&cli.StringFlag{Name: flagLabels, Usage: "class names `FILE`, one per line"},
		&cli.StringFlag{Name: flagBackend, Usage: "detector backend: yolo or service"},
		&cli.BoolFlag{Name: flagNoDisp, Usage: "do not open the preview window"},
		&cli.StringFlag{Name: flagAddr, Usage: "serve the HTTP API on `ADDR`, e.g. :8080"},
		&cli.BoolFlag{Name: flagTray, Usage: "run in the system tray (implies --no-display)"},
		&cli.BoolFlag{Name: flagMute, Usage: "start with spoken alerts muted"},
		&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: flagDB, Usage: "calibration database `FILE`"},
	}
}

// storePath returns the database path from the flag, the config or the
// default data directory, creating the parent directory.
func storePath(flag, configured string) (string, error) {
	path := flag
	if path == "" {
		path = configured
	}
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, dataDirName, dbFileName)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return path, nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.echosight/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, dataDirName, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
