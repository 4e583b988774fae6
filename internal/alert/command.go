package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Placeholders substituted in command templates.
const (
	PlaceholderText = "{text}"
	PlaceholderLang = "{lang}"
	PlaceholderOut  = "{out}"
	PlaceholderFile = "{file}"
)

// ErrEmptyCommand is returned when a command template has no program.
var ErrEmptyCommand = errors.New("empty command")

// expandCommand replaces the placeholders in every argument of template.
func expandCommand(template []string, vars map[string]string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		out[i] = arg
	}
	return out
}

// containsPlaceholder reports whether any argument of template uses p.
func containsPlaceholder(template []string, p string) bool {
	for _, arg := range template {
		if strings.Contains(arg, p) {
			return true
		}
	}
	return false
}

// runCommand runs argv with the given timeout and folds stderr into the error.
func runCommand(ctx context.Context, timeout time.Duration, argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return ErrEmptyCommand
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %v", argv[0], timeout)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", argv[0], ctx.Err())
	}

	if err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return fmt.Errorf("%s failed: %w, stderr: %s", argv[0], err, s)
		}
		return fmt.Errorf("%s failed: %w", argv[0], err)
	}

	return nil
}

// lookCommand verifies the program of argv can be found.
func lookCommand(argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return ErrEmptyCommand
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("find %s: %w", argv[0], err)
	}
	return nil
}
