package config

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/javanstorm/vmhost/internal/logging"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = warning only
}

// ValidateConfig checks the configuration before the orchestrator starts.
// Missing images and binaries are warnings: they only fail the start
// requests that need them.
func ValidateConfig(cfg *Config) []ValidationError {
	var errors []ValidationError

	host, _, err := net.SplitHostPort(cfg.ListenAddress)
	if err != nil {
		errors = append(errors, ValidationError{
			Field:   "ListenAddress",
			Message: fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err),
			Fatal:   true,
		})
	} else if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		errors = append(errors, ValidationError{
			Field:   "ListenAddress",
			Message: fmt.Sprintf("%s is not a loopback address; clients are not authenticated", host),
		})
	}

	if cfg.AddressAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "AddressAttempts",
			Message: "must be at least 1",
			Fatal:   true,
		})
	}
	if cfg.AddressInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "AddressInterval",
			Message: "must not be negative",
			Fatal:   true,
		})
	}
	if cfg.StopTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "StopTimeout",
			Message: "must not be negative",
			Fatal:   true,
		})
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		errors = append(errors, ValidationError{
			Field:   "LogLevel",
			Message: fmt.Sprintf("%v (want debug, info, warn or error)", err),
			Fatal:   true,
		})
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, ValidationError{
			Field:   "LogFormat",
			Message: fmt.Sprintf("unknown format %q (want text or json)", cfg.LogFormat),
			Fatal:   true,
		})
	}

	for field, path := range map[string]string{
		"BaseImage": cfg.BaseImagePath(),
		"Kernel":    cfg.KernelPath(),
		"Initrd":    cfg.InitrdPath(),
	} {
		if _, err := os.Stat(path); err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s not found", path),
			})
		}
	}

	for field, bin := range map[string]string{
		"HypervisorBinary": cfg.HypervisorBinary,
		"DiskBinary":       cfg.DiskBinary,
	} {
		if _, err := exec.LookPath(bin); err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s not found in PATH", bin),
			})
		}
	}

	return errors
}

// HasFatal reports whether any of errors prevents startup.
func HasFatal(errors []ValidationError) bool {
	for _, e := range errors {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errors {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
