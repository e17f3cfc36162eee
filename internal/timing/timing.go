// Package timing provides simple phase timing for lifecycle transitions.
package timing

import (
	"log/slog"
	"time"
)

// Timer tracks durations of named phases.
type Timer struct {
	start  time.Time
	phases []Phase
}

// Phase represents a timed phase with name and duration.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a new Timer starting from now.
func New() *Timer {
	return &Timer{start: time.Now()}
}

// Mark records a named phase ending now.
// Duration is time since last mark (or since start if first mark).
func (t *Timer) Mark(name string) {
	now := time.Now()
	var duration time.Duration
	if len(t.phases) == 0 {
		duration = now.Sub(t.start)
	} else {
		duration = now.Sub(t.start) - t.totalDuration()
	}
	t.phases = append(t.phases, Phase{Name: name, Duration: duration})
}

// Total returns the total elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Phases returns all recorded phases.
func (t *Timer) Phases() []Phase {
	return t.phases
}

// LogAttr groups the phases and the total under key, for structured logs.
func (t *Timer) LogAttr(key string) slog.Attr {
	attrs := make([]any, 0, len(t.phases)+1)
	for _, p := range t.phases {
		attrs = append(attrs, slog.Duration(p.Name, p.Duration))
	}
	attrs = append(attrs, slog.Duration("total", t.Total()))
	return slog.Group(key, attrs...)
}

// totalDuration returns the sum of all phase durations.
func (t *Timer) totalDuration() time.Duration {
	var total time.Duration
	for _, p := range t.phases {
		total += p.Duration
	}
	return total
}
