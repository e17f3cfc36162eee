package hypervisor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/vmhost/internal/testutil"
)

func testConfig(dir string) *VMConfig {
	return &VMConfig{
		Name:       "alpha",
		CPUs:       2,
		Memory:     "2G",
		DiskDevice: "/dev/disk4",
		ConsoleIn:  filepath.Join(dir, "stdin_alpha"),
		ConsoleOut: filepath.Join(dir, "stdout_alpha"),
		Kernel:     "/data/kernel/vmlinuz",
		Initrd:     "/data/kernel/initrd.gz",
		Cmdline:    "root=/dev/vda3 console=ttyS0",
	}
}

func TestUUIDIsDeterministic(t *testing.T) {
	// Matches uuid3(NAMESPACE_OID, "alpha").
	assert.Equal(t, "c8fa4301-f58b-3b79-932f-81212c1a88ef", UUID("alpha").String())
	assert.Equal(t, UUID("beta"), UUID("beta"))
	assert.NotEqual(t, UUID("alpha"), UUID("beta"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*VMConfig)
		want   error
	}{
		{"valid", func(*VMConfig) {}, nil},
		{"no name", func(c *VMConfig) { c.Name = "" }, ErrMissingName},
		{"zero cpus", func(c *VMConfig) { c.CPUs = 0 }, ErrInvalidCPUCount},
		{"bad memory", func(c *VMConfig) { c.Memory = "lots" }, ErrInvalidMemory},
		{"zero memory", func(c *VMConfig) { c.Memory = "0G" }, ErrInvalidMemory},
		{"no disk", func(c *VMConfig) { c.DiskDevice = "" }, ErrMissingDisk},
		{"no console", func(c *VMConfig) { c.ConsoleOut = "" }, ErrMissingConsole},
		{"no kernel", func(c *VMConfig) { c.Kernel = "" }, ErrMissingKernel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidMemory(t *testing.T) {
	for _, ok := range []string{"1G", "512M", "2048", "1g", "65536K"} {
		assert.True(t, ValidMemory(ok), ok)
	}
	for _, bad := range []string{"", "G", "1.5G", "-1G", "1T", "01G", "1G "} {
		assert.False(t, ValidMemory(bad), bad)
	}
}

func TestRawDevice(t *testing.T) {
	assert.Equal(t, "/dev/rdisk4", RawDevice("/dev/disk4"))
	assert.Equal(t, "/dev/rdisk12", RawDevice("/dev/disk12"))
	assert.Equal(t, "/dev/loop0", RawDevice("/dev/loop0"))
}

func TestHyperkitArgs(t *testing.T) {
	cfg := testConfig("/tmp")
	args := strings.Join(HyperkitArgs(cfg), " ")

	for _, want := range []string{
		"-m 2G",
		"-c 2",
		"-s 0:0,hostbridge",
		"-s 31,lpc",
		"-l com1,stdio,autopty=/tmp/stdin_alpha,asl,log=/tmp/stdout_alpha",
		"-s 1:0,virtio-blk,/dev/rdisk4",
		"-s 2:0,virtio-net",
		"-s 6,virtio-rnd",
		"-f kexec,/data/kernel/vmlinuz,/data/kernel/initrd.gz,root=/dev/vda3 console=ttyS0",
		"-U c8fa4301-f58b-3b79-932f-81212c1a88ef",
	} {
		assert.Contains(t, args, want)
	}
}

func TestSpawnTerminateWait(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.WriteScript(t, dir, "hyperkit", "exec sleep 30")

	l := NewHyperkitLauncher(bin, nil)
	p, err := l.Spawn(context.Background(), testConfig(dir))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Greater(t, p.PID(), 0)
	assert.True(t, p.Alive())

	require.NoError(t, p.Terminate())

	waitErr := make(chan error, 1)
	go func() { waitErr <- p.Wait() }()
	select {
	case err := <-waitErr:
		assert.Error(t, err, "terminated process reports a signal exit")
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after Terminate")
	}

	assert.False(t, p.Alive())
	assert.ErrorIs(t, p.Terminate(), ErrNotRunning)
	assert.ErrorIs(t, p.Kill(), ErrNotRunning)

	// Wait is idempotent once reaped.
	assert.Error(t, p.Wait())
}

func TestSpawnKill(t *testing.T) {
	dir := t.TempDir()
	// Ignores SIGTERM, so only Kill stops it.
	bin := testutil.WriteScript(t, dir, "hyperkit", "trap '' TERM\nwhile :; do sleep 1; done")

	p, err := NewHyperkitLauncher(bin, nil).Spawn(context.Background(), testConfig(dir))
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
	assert.False(t, p.Alive())
}

func TestSpawnExitsOnItsOwn(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.WriteScript(t, dir, "hyperkit", "exit 0")

	p, err := NewHyperkitLauncher(bin, nil).Spawn(context.Background(), testConfig(dir))
	require.NoError(t, err)

	assert.NoError(t, p.Wait())
	assert.False(t, p.Alive())
}

func TestSpawnErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewHyperkitLauncher(filepath.Join(dir, "missing"), nil).Spawn(context.Background(), testConfig(dir))
	assert.True(t, errors.Is(err, ErrSpawn), "err = %v", err)

	cfg := testConfig(dir)
	cfg.CPUs = 0
	_, err = NewHyperkitLauncher("hyperkit", nil).Spawn(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidCPUCount)
}
