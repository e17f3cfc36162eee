// Package config provides configuration management for vmhost.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds the directory layout vmhost works in.
type Paths struct {
	// ConfigDir is the directory searched for config.yaml besides DataDir.
	// macOS: ~/Library/Application Support/vmhost
	// Linux: ~/.config/vmhost (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir is the root of the image and kernel directories.
	DataDir string

	// VMsDir holds per-instance shadow images (<name>.shadow).
	VMsDir string

	// DisksDir holds the read-only base image.
	DisksDir string

	// KernelDir holds the kernel and initrd booted by every instance.
	KernelDir string
}

// GetPaths returns platform-aware default paths for vmhost.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	var configDir string
	switch runtime.GOOS {
	case "darwin":
		configDir = filepath.Join(home, "Library", "Application Support", "vmhost")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "vmhost")
		} else {
			configDir = filepath.Join(home, ".config", "vmhost")
		}
	}

	p := NewPaths(filepath.Join(home, ".vmhost"))
	p.ConfigDir = configDir
	return p, nil
}

// NewPaths derives the image and kernel directories from dataDir.
func NewPaths(dataDir string) *Paths {
	return &Paths{
		DataDir:   dataDir,
		VMsDir:    filepath.Join(dataDir, "vms"),
		DisksDir:  filepath.Join(dataDir, "disks"),
		KernelDir: filepath.Join(dataDir, "kernel"),
	}
}

// EnsureDirectories creates the data directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.VMsDir, p.DisksDir, p.KernelDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
