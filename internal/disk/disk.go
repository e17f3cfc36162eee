// Package disk attaches per-instance copy-on-write shadow images on top of
// the read-only base image and detaches them again on teardown.
package disk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/javanstorm/vmhost/internal/hostcmd"
)

var (
	ErrAttach = errors.New("disk: attach failed")
	ErrDetach = errors.New("disk: detach failed")
)

// Manager drives the host disk utility (hdiutil on macOS).
type Manager struct {
	binary string
	runner hostcmd.Runner
	logger *slog.Logger
}

// NewManager creates a disk manager invoking binary through runner.
func NewManager(binary string, runner hostcmd.Runner, logger *slog.Logger) *Manager {
	if runner == nil {
		runner = hostcmd.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{binary: binary, runner: runner, logger: logger}
}

// Attach attaches shadowPath as a writable overlay of basePath without
// mounting it and returns the device identifier, e.g. /dev/disk4.
// The shadow file is created by the utility on first attach.
func (m *Manager) Attach(ctx context.Context, basePath, shadowPath string) (string, error) {
	res, err := m.runner.Run(ctx, m.binary,
		"attach", "-nomount", "-noverify", "-noautofsck",
		"-shadow", shadowPath, basePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAttach, err)
	}
	if err := res.Err(); err != nil {
		m.logger.Error("disk attach failed", "shadow", shadowPath, "stderr", strings.TrimSpace(string(res.Stderr)))
		return "", fmt.Errorf("%w: %w", ErrAttach, err)
	}

	fields := strings.Fields(res.FirstLine())
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: no device in output of %s", ErrAttach, res.Command)
	}

	m.logger.Debug("disk attached", "shadow", shadowPath, "device", fields[0])
	return fields[0], nil
}

// Detach detaches device. Callers treat a failure as a warning.
func (m *Manager) Detach(ctx context.Context, device string) error {
	res, err := m.runner.Run(ctx, m.binary, "detach", device)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDetach, err)
	}
	if out := strings.TrimSpace(string(res.Stdout)); out != "" {
		m.logger.Debug("disk detach output", "device", device, "stdout", out)
	}
	if err := res.Err(); err != nil {
		m.logger.Error("disk detach failed", "device", device, "stderr", strings.TrimSpace(string(res.Stderr)))
		return fmt.Errorf("%w: %w", ErrDetach, err)
	}
	return nil
}
