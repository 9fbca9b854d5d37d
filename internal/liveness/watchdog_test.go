package liveness

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"

	"framebridge/native/internal/domain"
)

type fakeProbe struct{}

func (fakeProbe) ConnectionState() string    { return "connected" }
func (fakeProbe) ICEConnectionState() string { return "checking" }

type fakeNow struct{ t time.Time }

func (f *fakeNow) Now() time.Time { return f.t }

var epoch = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func newTestWatchdog(clock *FrameClock, now *fakeNow, buf *bytes.Buffer) *Watchdog {
	return NewWatchdog(clock, fakeProbe{}, WatchdogOptions{
		Now: now.Now,
		LoggerFactory: &logging.DefaultLoggerFactory{
			Writer:          buf,
			DefaultLogLevel: logging.LogLevelInfo,
		},
	})
}

func TestWatchdog_HealthyDegradedDead(t *testing.T) {
	var buf bytes.Buffer
	clock := &FrameClock{}
	now := &fakeNow{}
	w := newTestWatchdog(clock, now, &buf)

	gaps := []time.Duration{0, 6 * time.Second, 11 * time.Second}
	want := []domain.LivenessState{domain.Healthy, domain.Degraded, domain.Dead}

	clock.Mark(epoch)
	for i, gap := range gaps {
		now.t = epoch.Add(gap)
		if got := w.Poll(); got != want[i] {
			t.Errorf("gap %s: got %s, want %s", gap, got, want[i])
		}
	}

	// Fresh frames never revive a dead session.
	for i := 0; i < 5; i++ {
		now.t = now.t.Add(3 * time.Second)
		clock.Mark(now.t)
		if got := w.Poll(); got != domain.Dead {
			t.Fatalf("poll after death returned %s", got)
		}
	}

	out := buf.String()
	if !strings.Contains(out, "session dead") || !strings.Contains(out, "ice=checking") {
		t.Errorf("death log missing diagnostics:\n%s", out)
	}
}

func TestWatchdog_RecoveryResetsCounter(t *testing.T) {
	var buf bytes.Buffer
	clock := &FrameClock{}
	now := &fakeNow{}
	w := newTestWatchdog(clock, now, &buf)

	clock.Mark(epoch)
	now.t = epoch.Add(6 * time.Second)
	if got := w.Poll(); got != domain.Degraded {
		t.Fatalf("expected DEGRADED, got %s", got)
	}
	if w.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", w.Failures())
	}

	clock.Mark(now.t)
	if got := w.Poll(); got != domain.Healthy {
		t.Fatalf("expected HEALTHY, got %s", got)
	}
	if w.Failures() != 0 {
		t.Errorf("expected failure counter reset, got %d", w.Failures())
	}
	if n := strings.Count(buf.String(), "frames flowing again"); n != 1 {
		t.Errorf("expected one recovery line, got %d", n)
	}

	// Steady healthy polls do not repeat the recovery line.
	w.Poll()
	if n := strings.Count(buf.String(), "frames flowing again"); n != 1 {
		t.Errorf("recovery logged again: %d", n)
	}
}

func TestWatchdog_BoundariesInclusive(t *testing.T) {
	tests := []struct {
		gap  time.Duration
		want domain.LivenessState
	}{
		{5 * time.Second, domain.Healthy},
		{5*time.Second + time.Millisecond, domain.Degraded},
		{10 * time.Second, domain.Degraded},
		{10*time.Second + time.Millisecond, domain.Dead},
	}

	for _, tt := range tests {
		clock := &FrameClock{}
		now := &fakeNow{t: epoch.Add(tt.gap)}
		w := newTestWatchdog(clock, now, &bytes.Buffer{})
		clock.Mark(epoch)
		if got := w.Poll(); got != tt.want {
			t.Errorf("gap %s: got %s, want %s", tt.gap, got, tt.want)
		}
	}
}

func TestWatchdog_SilenceCountsFromArm(t *testing.T) {
	clock := &FrameClock{}
	now := &fakeNow{t: epoch}
	w := newTestWatchdog(clock, now, &bytes.Buffer{})

	if got := w.Poll(); got != domain.Healthy {
		t.Fatalf("first poll without frames: got %s", got)
	}
	if clock.Count() != 0 {
		t.Errorf("arming must not count a frame")
	}
	now.t = epoch.Add(11 * time.Second)
	if got := w.Poll(); got != domain.Dead {
		t.Errorf("expected DEAD after 11s without frames, got %s", got)
	}
}

func TestWatchdog_RunReturnsErrSessionDead(t *testing.T) {
	w := NewWatchdog(&FrameClock{}, fakeProbe{}, WatchdogOptions{
		Policy: Policy{
			PollEvery:     5 * time.Millisecond,
			DegradedAfter: 10 * time.Millisecond,
			DeadAfter:     30 * time.Millisecond,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := w.Run(ctx); !errors.Is(err, ErrSessionDead) {
		t.Errorf("expected ErrSessionDead, got %v", err)
	}
	if w.State() != domain.Dead {
		t.Errorf("expected DEAD state, got %s", w.State())
	}
}

func TestWatchdog_RunStopsOnCancel(t *testing.T) {
	w := NewWatchdog(&FrameClock{}, fakeProbe{}, WatchdogOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
