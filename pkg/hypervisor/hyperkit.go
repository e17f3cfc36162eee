package hypervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// HyperkitLauncher spawns hyperkit processes.
type HyperkitLauncher struct {
	// Binary is the hyperkit executable.
	Binary string

	// Logger receives spawn events. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewHyperkitLauncher creates a launcher for the given hyperkit binary.
func NewHyperkitLauncher(binary string, logger *slog.Logger) *HyperkitLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HyperkitLauncher{Binary: binary, Logger: logger}
}

// RawDevice maps a block device to its raw (character) counterpart,
// /dev/disk4 -> /dev/rdisk4, which hyperkit's virtio-blk needs for
// unbuffered access.
func RawDevice(device string) string {
	return strings.Replace(device, "/disk", "/rdisk", 1)
}

// HyperkitArgs builds the hyperkit command line for cfg.
func HyperkitArgs(cfg *VMConfig) []string {
	kexec := fmt.Sprintf("kexec,%s,%s,%s", cfg.Kernel, cfg.Initrd, cfg.Cmdline)

	return []string{
		"-w", "-A", "-H", "-P",
		"-m", cfg.Memory,
		"-c", fmt.Sprint(cfg.CPUs),
		"-s", "0:0,hostbridge",
		"-s", "31,lpc",
		"-l", fmt.Sprintf("com1,stdio,autopty=%s,asl,log=%s", cfg.ConsoleIn, cfg.ConsoleOut),
		"-s", "1:0,virtio-blk," + RawDevice(cfg.DiskDevice),
		"-s", "2:0,virtio-net",
		"-s", "6,virtio-rnd",
		"-f", kexec,
		"-U", UUID(cfg.Name).String(),
	}
}

// Spawn starts hyperkit detached from ctx: the process outlives the
// request that created it and is only stopped through its Process handle.
func (l *HyperkitLauncher) Spawn(ctx context.Context, cfg *VMConfig) (Process, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cmd := exec.Command(l.Binary, HyperkitArgs(cfg)...)
	p, err := startProcess(cmd)
	if err != nil {
		return nil, err
	}

	l.Logger.InfoContext(ctx, "hypervisor spawned",
		"vm", cfg.Name,
		"pid", p.PID(),
		"uuid", UUID(cfg.Name).String(),
		"device", cfg.DiskDevice)
	return p, nil
}
