package alert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Player plays an audio file, blocking until playback finishes.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Playback timing defaults.
const (
	DefaultPlaybackTimeout = 30 * time.Second
	playbackSlack          = 3 * time.Second
)

// DefaultPlayerCommand returns a playback command suitable for the current OS.
func DefaultPlayerCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"afplay", PlaceholderFile}
	default:
		return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", PlaceholderFile}
	}
}

// CommandPlayer plays audio files with an external program.
type CommandPlayer struct {
	Command []string
	Timeout time.Duration
}

// NewCommandPlayer creates a CommandPlayer. An empty command uses
// DefaultPlayerCommand and a non-positive timeout uses DefaultPlaybackTimeout.
func NewCommandPlayer(command []string, timeout time.Duration) *CommandPlayer {
	if len(command) == 0 {
		command = DefaultPlayerCommand()
	}
	if timeout <= 0 {
		timeout = DefaultPlaybackTimeout
	}
	return &CommandPlayer{Command: command, Timeout: timeout}
}

// Init verifies the playback program is installed.
func (p *CommandPlayer) Init() error {
	return lookCommand(p.Command)
}

// Play implements Player. If the template has no {file} placeholder the path
// is appended as the last argument.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	argv := p.Command
	if containsPlaceholder(argv, PlaceholderFile) {
		argv = expandCommand(argv, map[string]string{PlaceholderFile: path})
	} else {
		argv = append(append([]string{}, argv...), path)
	}

	if err := runCommand(ctx, p.timeoutFor(path), argv); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// timeoutFor bounds playback by the clip duration when it is known.
func (p *CommandPlayer) timeoutFor(path string) time.Duration {
	if d, ok := ClipDuration(path); ok {
		return d + playbackSlack
	}
	return p.Timeout
}

// ClipDuration returns the duration of a WAV file.
func ClipDuration(path string) (time.Duration, bool) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return 0, false
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, false
	}

	d, err := dec.Duration()
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
