// Package console discovers a guest's network address through its serial
// console files. The guest runs no agent, so the only channel is to type a
// command into the console and scan the console log for its answer.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

// AddressCommand prints the guest's global-scope IPv4 addresses, one per line.
const AddressCommand = `ip a | grep 'scope global' | grep --color=never -Po '(?<=inet )[\d.]+'`

const (
	DefaultAttempts = 10
	DefaultInterval = time.Second
)

// ErrAddressUnavailable means no attempt produced an address. The guest
// may still be booting; it is an outcome, not a failure.
var ErrAddressUnavailable = errors.New("console: address not yet available")

// Channel reads and writes the per-instance console files in Dir.
type Channel struct {
	// Dir holds stdin_<name> and stdout_<name>.
	Dir string

	// Attempts bounds the number of polls.
	Attempts int

	// Interval separates two polls.
	Interval time.Duration

	// Clock paces the polls; tests inject a fake clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// NewChannel creates a console channel with the default retry budget.
func NewChannel(dir string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		Dir:      dir,
		Attempts: DefaultAttempts,
		Interval: DefaultInterval,
		Clock:    clock.RealClock{},
		Logger:   logger,
	}
}

// InputPath is where the hypervisor links the console input pty.
func (c *Channel) InputPath(name string) string {
	return filepath.Join(c.Dir, "stdin_"+name)
}

// OutputPath is where the hypervisor logs console output.
func (c *Channel) OutputPath(name string) string {
	return filepath.Join(c.Dir, "stdout_"+name)
}

// Discover polls the console of the named instance for its address.
// It returns ErrAddressUnavailable once all attempts are spent, or the
// context error if ctx ends first.
func (c *Channel) Discover(ctx context.Context, name string) (netip.Addr, error) {
	for attempt := 1; attempt <= c.Attempts; attempt++ {
		if err := c.send(name, AddressCommand); err != nil {
			c.Logger.Debug("console write failed", "vm", name, "attempt", attempt, "error", err)
		}

		addr, err := c.scan(name)
		switch {
		case err == nil:
			c.Logger.Debug("address discovered", "vm", name, "attempt", attempt, "address", addr)
			return addr, nil
		case !errors.Is(err, ErrAddressUnavailable):
			c.Logger.Debug("console read failed", "vm", name, "attempt", attempt, "error", err)
		}

		if attempt == c.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return netip.Addr{}, ctx.Err()
		case <-c.Clock.After(c.Interval):
		}
	}
	return netip.Addr{}, ErrAddressUnavailable
}

// send writes one command line into the console input.
func (c *Channel) send(name, command string) error {
	f, err := os.OpenFile(c.InputPath(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open console input: %w", err)
	}
	if _, err := f.WriteString(command + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write console input: %w", err)
	}
	return f.Close()
}

// scan returns the first line of the console log that is an IP literal.
func (c *Channel) scan(name string) (netip.Addr, error) {
	f, err := os.Open(c.OutputPath(name))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("open console output: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if addr, err := netip.ParseAddr(strings.TrimSpace(scanner.Text())); err == nil {
			return addr, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return netip.Addr{}, fmt.Errorf("read console output: %w", err)
	}
	return netip.Addr{}, ErrAddressUnavailable
}
