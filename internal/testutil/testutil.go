// Package testutil provides common test helpers for vmhost tests.
package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/javanstorm/vmhost/internal/config"
)

// TestConfig returns a Config rooted in t.TempDir() with its directories created.
// Console files also live in a temp dir so tests never touch /tmp directly.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ConsoleDir = t.TempDir()
	cfg.ListenAddress = FreeAddress(t)

	if err := cfg.Paths().EnsureDirectories(); err != nil {
		t.Fatalf("failed to create data directories: %v", err)
	}
	return cfg
}

// WriteScript writes an executable shell script named name into dir and
// returns its path. It stands in for host utilities such as the disk tool
// or the hypervisor.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
func CreateTestDisk(t *testing.T, path string, sizeMB int64) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	sizeBytes := sizeMB * 1024 * 1024
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", sizeBytes, err)
	}
}

// FreeAddress returns a loopback host:port that was free at the time of the call.
func FreeAddress(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}
