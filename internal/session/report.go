package session

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"framebridge/native/internal/domain"
	"framebridge/native/internal/liveness"
	"framebridge/native/internal/relay"
)

// Report summarizes a finished session.
type Report struct {
	SessionID     string
	Duration      time.Duration
	Cause         error
	Dead          bool
	Liveness      domain.LivenessState
	DegradedPolls int
	Frames        uint64
	Relay         relay.Stats
	ConnState     string
	ICEState      string
	DataChannels  int
	// Cameras is the camera count from the preflight check, -1 if unknown.
	Cameras int
}

// Failed reports whether the session ended for a reason other than an
// operator interrupt.
func (r *Report) Failed() bool {
	return r.Cause != nil
}

func (s *Session) report(cause error) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{
		SessionID:    s.id,
		Duration:     s.deps.Now().Sub(s.startedAt),
		Cause:        cause,
		Dead:         errors.Is(cause, liveness.ErrSessionDead),
		Liveness:     domain.Healthy,
		Frames:       s.clock.Count(),
		ConnState:    s.connState,
		ICEState:     s.iceState,
		DataChannels: s.channels,
		Cameras:      s.cameras,
	}
	if s.relay != nil {
		r.Relay = s.relay.Stats()
	}
	if s.watchdog != nil {
		r.Liveness = s.watchdog.State()
		r.DegradedPolls = s.watchdog.Failures()
	}
	return r
}

// Summary renders the diagnostic lines of r.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:          %s\n", r.SessionID)
	fmt.Fprintf(&b, "Duration:         %s\n", r.Duration.Round(time.Second))
	if r.Cause != nil {
		fmt.Fprintf(&b, "Cause:            %v\n", r.Cause)
	} else {
		fmt.Fprintf(&b, "Cause:            interrupted\n")
	}
	fmt.Fprintf(&b, "Liveness:         %s (%d degraded polls)\n", r.Liveness, r.DegradedPolls)
	fmt.Fprintf(&b, "Connection state: %s\n", r.ConnState)
	fmt.Fprintf(&b, "ICE state:        %s\n", r.ICEState)
	fmt.Fprintf(&b, "Frames received:  %d\n", r.Frames)
	fmt.Fprintf(&b, "Frames relayed:   %d (dropped %d, failed %d, %d bytes)\n",
		r.Relay.Relayed, r.Relay.Dropped, r.Relay.Failed, r.Relay.BytesSent)
	if r.Cameras >= 0 {
		fmt.Fprintf(&b, "Cameras online:   %d\n", r.Cameras)
	} else {
		fmt.Fprintf(&b, "Cameras online:   unknown\n")
	}
	return b.String()
}

// Guidance returns remediation steps for the way the session ended.
func (r *Report) Guidance() []string {
	switch {
	case r.Cause == nil:
		return nil
	case r.Dead && r.Frames == 0:
		return []string{
			"No frame was ever received. Check that the camera app is streaming.",
			"Check the connection and ICE states above; \"failed\" usually means no network path (try another STUN server or network).",
			"Restart framebridge once the camera is streaming again.",
		}
	case r.Dead:
		return []string{
			"Frames stopped arriving. Check that the camera app is still in the foreground.",
			"Reconnect the camera to the signaling server, then restart framebridge.",
		}
	case errors.Is(r.Cause, ErrSignalingClosed):
		return []string{
			"The signaling server closed the connection. Check that it is still running.",
			"Restart framebridge to reconnect.",
		}
	default:
		return []string{
			"Restart framebridge. If the problem persists, run with BRIDGE_DEBUG=true.",
		}
	}
}

// PrintReport writes r as a pterm box followed by any remediation steps.
func PrintReport(w io.Writer, r *Report) {
	title := "framebridge session ended"
	if r.Dead {
		title = "framebridge session declared dead"
	} else if r.Failed() {
		title = "framebridge session failed"
	}

	content := strings.TrimRight(r.Summary(), "\n")
	if steps := r.Guidance(); len(steps) > 0 {
		content += "\n\nWhat to do:"
		for i, step := range steps {
			content += fmt.Sprintf("\n  %d. %s", i+1, step)
		}
	}

	fmt.Fprintln(w, pterm.DefaultBox.WithTitle(title).Sprint(content))
}
