package timing

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTimerMark(t *testing.T) {
	timer := New()

	// Sleep to ensure measurable duration
	time.Sleep(10 * time.Millisecond)
	timer.Mark("phase1")

	time.Sleep(15 * time.Millisecond)
	timer.Mark("phase2")

	phases := timer.Phases()
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(phases))
	}

	// Phase 1 should be ~10ms
	if phases[0].Name != "phase1" {
		t.Errorf("expected phase1, got %s", phases[0].Name)
	}
	if phases[0].Duration < 10*time.Millisecond {
		t.Errorf("phase1 duration too short: %v", phases[0].Duration)
	}

	// Phase 2 should be ~15ms
	if phases[1].Name != "phase2" {
		t.Errorf("expected phase2, got %s", phases[1].Name)
	}
	if phases[1].Duration < 15*time.Millisecond {
		t.Errorf("phase2 duration too short: %v", phases[1].Duration)
	}
}

func TestTimerTotal(t *testing.T) {
	timer := New()

	time.Sleep(10 * time.Millisecond)
	timer.Mark("phase1")

	total := timer.Total()
	if total < 10*time.Millisecond {
		t.Errorf("total too short: %v", total)
	}
}

func TestTimerLogAttr(t *testing.T) {
	timer := New()

	time.Sleep(10 * time.Millisecond)
	timer.Mark("attach")

	time.Sleep(10 * time.Millisecond)
	timer.Mark("spawn")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("vm started", timer.LogAttr("timing"))

	output := buf.String()

	if !strings.Contains(output, "timing.attach=") {
		t.Errorf("log missing attach phase: %s", output)
	}
	if !strings.Contains(output, "timing.spawn=") {
		t.Errorf("log missing spawn phase: %s", output)
	}
	if !strings.Contains(output, "timing.total=") {
		t.Errorf("log missing total: %s", output)
	}
}

func TestTimerEmpty(t *testing.T) {
	timer := New()

	// No marks - should still work
	phases := timer.Phases()
	if len(phases) != 0 {
		t.Errorf("expected 0 phases, got %d", len(phases))
	}

	// Total should still return a duration
	total := timer.Total()
	if total < 0 {
		t.Error("total should be positive")
	}

	// Group with no phases still carries the total
	attr := timer.LogAttr("timing")
	if got := len(attr.Value.Group()); got != 1 {
		t.Errorf("empty timer group has %d attrs, want 1", got)
	}
}
