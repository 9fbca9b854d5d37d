// Package session owns one bridge session: the signaling channel, the peer
// connection, the frame-output channel and every task started for them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"framebridge/native/internal/domain"
	"framebridge/native/internal/liveness"
	"framebridge/native/internal/logx"
	"framebridge/native/internal/relay"
	"framebridge/native/internal/signal"
)

const preflightTimeout = 3 * time.Second

// ErrSignalingClosed is the session cause when the signaling channel ends.
var ErrSignalingClosed = errors.New("signaling channel closed")

// Signaling is the persistent signaling channel.
type Signaling interface {
	domain.Sender
	Run(ctx context.Context, handle func(data []byte) error) error
	Close() error
}

// Transport is the peer connection as seen by the session.
type Transport interface {
	domain.Transport
	SetListener(l domain.Listener) error
}

// Deps wires a Session to its collaborators.
type Deps struct {
	// Status is optional; nil skips the preflight check.
	Status        domain.StatusFetcher
	DialFrames    func(ctx context.Context) (domain.FrameSink, error)
	DialSignaling func(ctx context.Context) (Signaling, error)
	NewTransport  func() (Transport, error)

	FilterIPv6     bool
	JPEGQuality    int
	CallTimeout    time.Duration
	Policy         liveness.Policy
	KeepAliveEvery time.Duration
	Now            func() time.Time
	LoggerFactory  logging.LoggerFactory
}

// Session is the orchestrator. It implements domain.Listener and is
// registered once with the transport.
type Session struct {
	id   string
	deps Deps
	lf   logging.LoggerFactory
	log  logging.LeveledLogger

	clock *liveness.FrameClock

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	signal    *signal.Session
	transport Transport
	relay     *relay.Relay

	mu        sync.Mutex
	closing   bool
	track     domain.VideoTrack
	watchdog  *liveness.Watchdog
	channels  int
	connState string
	iceState  string
	cameras   int
	startedAt time.Time
}

var _ domain.Listener = (*Session)(nil)

// New creates a Session. Run starts it.
func New(deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LoggerFactory == nil {
		deps.LoggerFactory = logx.Discard()
	}
	return &Session{
		id:        uuid.NewString(),
		deps:      deps,
		lf:        deps.LoggerFactory,
		log:       deps.LoggerFactory.NewLogger("session"),
		clock:     &liveness.FrameClock{},
		connState: "new",
		iceState:  "new",
		cameras:   -1,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Run opens the channels, serves the session until it ends and tears
// everything down. The returned error is nil when ctx was cancelled and the
// session-fatal cause otherwise; the report is always non-nil.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	s.startedAt = s.deps.Now()
	s.ctx, s.cancel = context.WithCancelCause(ctx)
	defer s.cancel(nil)

	s.log.Infof("session %s starting", s.id)
	s.preflight()

	sink, err := s.deps.DialFrames(s.ctx)
	if err != nil {
		s.log.Warnf("frame channel unavailable, frames will be dropped: %v", err)
		sink = nil
	}
	s.relay = relay.New(sink, relay.Options{
		Quality:       s.deps.JPEGQuality,
		Now:           s.deps.Now,
		LoggerFactory: s.lf,
	})

	sig, err := s.deps.DialSignaling(s.ctx)
	if err != nil {
		closeErr := closeSink(sink)
		return s.report(err), errors.Join(fmt.Errorf("open signaling: %w", err), closeErr)
	}

	transport, err := s.deps.NewTransport()
	if err != nil {
		closeErr := errors.Join(closeSink(sink), sig.Close())
		return s.report(err), errors.Join(fmt.Errorf("create transport: %w", err), closeErr)
	}
	s.transport = transport
	s.signal = signal.NewSession(transport, sig, signal.Options{
		FilterIPv6:    s.deps.FilterIPv6,
		CallTimeout:   s.deps.CallTimeout,
		LoggerFactory: s.lf,
	})
	if err := transport.SetListener(s); err != nil {
		closeErr := errors.Join(transport.Close(), closeSink(sink), sig.Close())
		return s.report(err), errors.Join(fmt.Errorf("register listener: %w", err), closeErr)
	}

	s.goTask("signaling", func(ctx context.Context) error {
		err := sig.Run(ctx, s.signal.HandleMessage)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrSignalingClosed, err)
	})

	<-s.ctx.Done()
	cause := context.Cause(s.ctx)
	if ctx.Err() != nil {
		s.log.Info("session interrupted, shutting down")
	} else {
		s.log.Warnf("session ending: %v", cause)
	}

	teardownErr := s.teardown(sink, sig)
	if teardownErr != nil {
		s.log.Warnf("teardown: %v", teardownErr)
	}

	if ctx.Err() != nil {
		return s.report(nil), nil
	}
	return s.report(cause), cause
}

func (s *Session) preflight() {
	if s.deps.Status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, preflightTimeout)
	defer cancel()

	st, err := s.deps.Status.FetchStatus(ctx)
	if err != nil {
		s.log.Warnf("status check failed: %v", err)
		return
	}
	s.mu.Lock()
	s.cameras = st.Cameras
	s.mu.Unlock()

	s.log.Infof("signaling server reports %d camera(s), %d viewer(s)", st.Cameras, st.Viewers)
	if st.Cameras == 0 {
		s.log.Warn("no camera connected yet, waiting for an offer")
	}
}

// teardown closes the peer and the frame channel (both always attempted),
// then signaling, then joins every task.
func (s *Session) teardown(sink domain.FrameSink, sig Signaling) error {
	s.mu.Lock()
	s.closing = true
	track := s.track
	s.mu.Unlock()

	s.signal.Close()

	err := errors.Join(
		s.transport.Close(),
		closeSink(sink),
	)
	if track != nil {
		err = errors.Join(err, track.Close())
	}
	err = errors.Join(err, sig.Close())

	s.wg.Wait()
	return err
}

func closeSink(sink domain.FrameSink) error {
	if sink == nil {
		return nil
	}
	return sink.Close()
}

// goTask runs fn as an owned task. A non-nil error from fn ends the session
// with that error as cause.
func (s *Session) goTask(name string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debugf("%s task ended: %v", name, err)
			s.cancel(err)
		}
	}()
	return true
}

// OnLocalCandidate implements domain.Listener.
func (s *Session) OnLocalCandidate(c domain.IceCandidate) {
	s.signal.OnLocalCandidate(c)
}

// OnRemoteTrack implements domain.Listener. The first video track starts the
// frame loop and the watchdog; later tracks are closed.
func (s *Session) OnRemoteTrack(track domain.VideoTrack) {
	s.mu.Lock()
	if s.track != nil || s.closing {
		s.mu.Unlock()
		s.log.Warnf("ignoring extra video track %s", track.ID())
		track.Close()
		return
	}
	s.track = track
	s.watchdog = liveness.NewWatchdog(s.clock, s.transport, liveness.WatchdogOptions{
		Policy:        s.deps.Policy,
		Now:           s.deps.Now,
		LoggerFactory: s.lf,
	})
	wd := s.watchdog
	s.mu.Unlock()

	s.log.Infof("video track %s received, relaying frames", track.ID())
	s.goTask("frames", func(ctx context.Context) error {
		return s.frameLoop(ctx, track)
	})
	s.goTask("watchdog", wd.Run)
}

func (s *Session) frameLoop(ctx context.Context, track domain.VideoTrack) error {
	for {
		img, err := track.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("frame loop: %w", err)
		}
		s.clock.Mark(s.deps.Now())
		s.relay.Relay(img)
	}
}

// OnConnectionStateChange implements domain.Listener.
func (s *Session) OnConnectionStateChange(state string) {
	s.mu.Lock()
	s.connState = state
	s.mu.Unlock()
	s.log.Infof("connection state: %s", state)
}

// OnICEStateChange implements domain.Listener.
func (s *Session) OnICEStateChange(state string) {
	s.mu.Lock()
	s.iceState = state
	s.mu.Unlock()
	s.log.Infof("ICE state: %s", state)
}

// OnDataChannel implements domain.Listener. Messages are logged; pings run
// while the channel stays open.
func (s *Session) OnDataChannel(ch domain.DataChannel) {
	s.mu.Lock()
	s.channels++
	s.mu.Unlock()

	ch.OnMessage(func(msg string) {
		s.log.Debugf("data channel %q: %s", ch.Label(), msg)
	})
	ch.OnOpen(func() {
		s.log.Infof("data channel %q open, starting keep-alive", ch.Label())
		k := liveness.NewKeepAlive(ch, liveness.KeepAliveOptions{
			Every:         s.deps.KeepAliveEvery,
			Now:           s.deps.Now,
			LoggerFactory: s.lf,
		})
		s.goTask("keepalive", k.Run)
	})
}
