// Package liveness decides whether a session is still receiving media and
// keeps the auxiliary data channel warm.
package liveness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"framebridge/native/internal/domain"
	"framebridge/native/internal/logx"
)

// ErrSessionDead is returned by Watchdog.Run once no frame has arrived for
// longer than the dead threshold.
var ErrSessionDead = errors.New("session declared dead: no frames received")

// Policy holds the watchdog thresholds.
type Policy struct {
	PollEvery     time.Duration
	DegradedAfter time.Duration
	DeadAfter     time.Duration
}

// DefaultPolicy polls every 3s, degrades after 5s and dies after 10s.
func DefaultPolicy() Policy {
	return Policy{
		PollEvery:     3 * time.Second,
		DegradedAfter: 5 * time.Second,
		DeadAfter:     10 * time.Second,
	}
}

// FrameClock records when the last frame arrived. Mark is called by the
// single frame loop; any goroutine may read.
type FrameClock struct {
	last  atomic.Int64
	count atomic.Uint64
}

// Mark records a frame arrival at t.
func (c *FrameClock) Mark(t time.Time) {
	c.last.Store(t.UnixNano())
	c.count.Add(1)
}

// Arm sets the reference time to t if no frame has been recorded yet, so the
// silence window starts when the track arrives.
func (c *FrameClock) Arm(t time.Time) {
	c.last.CompareAndSwap(0, t.UnixNano())
}

// Last returns the time of the last frame, or the zero time.
func (c *FrameClock) Last() time.Time {
	n := c.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Count returns the number of frames marked so far.
func (c *FrameClock) Count() uint64 {
	return c.count.Load()
}

// Probe reports transport state for diagnostics.
type Probe interface {
	ConnectionState() string
	ICEConnectionState() string
}

// WatchdogOptions configures a Watchdog.
type WatchdogOptions struct {
	Policy        Policy
	Now           func() time.Time
	LoggerFactory logging.LoggerFactory
}

// Watchdog classifies liveness from frame recency.
type Watchdog struct {
	clock  *FrameClock
	probe  Probe
	policy Policy
	now    func() time.Time
	log    logging.LeveledLogger

	mu       sync.Mutex
	state    domain.LivenessState
	failures int
}

// NewWatchdog creates a Watchdog in Healthy. A zero Policy means
// DefaultPolicy.
func NewWatchdog(clock *FrameClock, probe Probe, opts WatchdogOptions) *Watchdog {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logx.Discard()
	}
	return &Watchdog{
		clock:  clock,
		probe:  probe,
		policy: opts.Policy,
		now:    opts.Now,
		log:    opts.LoggerFactory.NewLogger("watchdog"),
		state:  domain.Healthy,
	}
}

// State returns the last verdict.
func (w *Watchdog) State() domain.LivenessState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Failures returns the number of consecutive degraded polls.
func (w *Watchdog) Failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// Poll evaluates frame recency once. Dead is sticky.
func (w *Watchdog) Poll() domain.LivenessState {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == domain.Dead {
		return w.state
	}

	now := w.now()
	last := w.clock.Last()
	if last.IsZero() {
		w.clock.Arm(now)
		last = now
	}
	elapsed := now.Sub(last)

	switch {
	case elapsed <= w.policy.DegradedAfter:
		if w.failures > 0 {
			w.log.Infof("frames flowing again after %d degraded polls", w.failures)
		}
		w.failures = 0
		w.state = domain.Healthy

	case elapsed <= w.policy.DeadAfter:
		w.failures++
		w.state = domain.Degraded
		w.log.Warnf("no frames for %.1fs (failure %d): connection=%s ice=%s frames=%d",
			elapsed.Seconds(), w.failures, w.probe.ConnectionState(),
			w.probe.ICEConnectionState(), w.clock.Count())

	default:
		w.state = domain.Dead
		w.log.Errorf("session dead, no frames for %.1fs: connection=%s ice=%s frames=%d",
			elapsed.Seconds(), w.probe.ConnectionState(),
			w.probe.ICEConnectionState(), w.clock.Count())
	}
	return w.state
}

// Run polls until ctx is done or the session is declared dead, in which case
// it returns ErrSessionDead.
func (w *Watchdog) Run(ctx context.Context) error {
	w.clock.Arm(w.now())

	ticker := time.NewTicker(w.policy.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.Poll() == domain.Dead {
				return ErrSessionDead
			}
		}
	}
}
