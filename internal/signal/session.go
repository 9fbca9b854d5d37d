package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"

	"framebridge/native/internal/candidate"
	"framebridge/native/internal/domain"
	"framebridge/native/internal/logx"
)

// DefaultCallTimeout bounds each transport call made while answering. It is
// kept well below the watchdog's degraded threshold.
const DefaultCallTimeout = 2 * time.Second

var (
	// ErrUnexpectedOffer is returned when an offer arrives after the
	// handshake has started. Renegotiation is not supported.
	ErrUnexpectedOffer = errors.New("offer received outside AwaitingOffer")
	// ErrTransportTimeout is returned when a transport call does not finish
	// within the call timeout.
	ErrTransportTimeout = errors.New("transport call timed out")
)

// State is the handshake state of a Session.
type State int

const (
	AwaitingOffer State = iota
	AnswerSent
	Trickling
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingOffer:
		return "AwaitingOffer"
	case AnswerSent:
		return "AnswerSent"
	case Trickling:
		return "Trickling"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	// FilterIPv6 drops non-mapped IPv6 candidates from the answer SDP and
	// from trickled local candidates.
	FilterIPv6    bool
	CallTimeout   time.Duration
	LoggerFactory logging.LoggerFactory
}

// Session drives the answerer side of the offer/answer handshake and the
// candidate trickle in both directions.
type Session struct {
	transport   domain.Transport
	sender      domain.Sender
	filterIPv6  bool
	callTimeout time.Duration
	log         logging.LeveledLogger

	mu            sync.Mutex
	state         State
	answering     bool
	pendingLocal  []domain.IceCandidate
	pendingRemote []remoteCandidate
}

// NewSession creates a Session in AwaitingOffer.
func NewSession(transport domain.Transport, sender domain.Sender, opts Options) *Session {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logx.Discard()
	}
	return &Session{
		transport:   transport,
		sender:      sender,
		filterIPv6:  opts.FilterIPv6,
		callTimeout: opts.CallTimeout,
		log:         opts.LoggerFactory.NewLogger("signal"),
		state:       AwaitingOffer,
	}
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close moves the session to Closed. Later messages and candidates are
// ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Closed
	s.pendingLocal = nil
	s.pendingRemote = nil
}

// HandleMessage dispatches one text message from the signaling channel.
// Non-JSON text and unknown types are ignored. The returned error is only
// non-nil for a failed or rejected offer; callers log it and keep reading.
func (s *Session) HandleMessage(data []byte) error {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debugf("non-JSON message ignored: %.50s", string(data))
		return nil
	}

	switch msg.Type {
	case domain.MsgOffer:
		s.log.Info("received offer")
		return s.onOffer(msg.SDP)

	case domain.MsgICE:
		rc, ok, err := msg.candidate()
		if err != nil {
			s.log.Debugf("ignoring ice message: %v", err)
			return nil
		}
		if !ok {
			s.log.Debug("remote end of candidates")
			return nil
		}
		s.onRemoteCandidate(rc)

	case domain.MsgCameraStatus:
		s.log.Infof("camera status: %s", msg.Status)

	default:
		s.log.Debugf("ignoring message type %q", msg.Type)
	}
	return nil
}

func (s *Session) onOffer(offerSDP string) error {
	s.mu.Lock()
	if s.state != AwaitingOffer || s.answering {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrUnexpectedOffer, state)
	}
	s.answering = true
	s.mu.Unlock()

	answer, err := s.negotiate(offerSDP)
	if err != nil {
		s.mu.Lock()
		s.answering = false
		s.mu.Unlock()
		return err
	}

	if s.filterIPv6 {
		filtered, removed, err := filterIPv6Candidates(answer.SDP)
		if err != nil {
			s.log.Warnf("answer SDP not filtered: %v", err)
		} else {
			answer.SDP = filtered
			if removed > 0 {
				s.log.Debugf("removed %d IPv6 candidates from answer", removed)
			}
		}
	}

	// The answer and the buffered local candidates are sent under the lock
	// so no trickled candidate can overtake the answer.
	s.mu.Lock()
	s.answering = false
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	if err := s.sender.SendJSON(domain.SDPPayload{Type: domain.MsgAnswer, SDP: answer.SDP}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("send answer: %w", err)
	}
	s.state = AnswerSent
	s.log.Info("sent answer")
	for _, c := range s.pendingLocal {
		s.sendCandidateLocked(c)
	}
	s.pendingLocal = nil
	remote := s.pendingRemote
	s.pendingRemote = nil
	s.mu.Unlock()

	for _, rc := range remote {
		s.applyRemote(rc)
	}
	return nil
}

func (s *Session) negotiate(offerSDP string) (domain.SDPPayload, error) {
	offer := domain.SDPPayload{Type: domain.MsgOffer, SDP: offerSDP}
	if err := s.call("set remote description", func() error {
		return s.transport.SetRemoteDescription(offer)
	}); err != nil {
		return domain.SDPPayload{}, err
	}

	var answer domain.SDPPayload
	if err := s.call("create answer", func() error {
		var err error
		answer, err = s.transport.CreateAnswer()
		return err
	}); err != nil {
		return domain.SDPPayload{}, err
	}

	if err := s.call("set local description", func() error {
		return s.transport.SetLocalDescription(answer)
	}); err != nil {
		return domain.SDPPayload{}, err
	}
	return answer, nil
}

func (s *Session) onRemoteCandidate(rc remoteCandidate) {
	s.mu.Lock()
	switch {
	case s.state == Closed:
		s.mu.Unlock()
		return
	case s.state == AwaitingOffer:
		s.pendingRemote = append(s.pendingRemote, rc)
		s.mu.Unlock()
		s.log.Debug("buffering remote candidate until answer is sent")
		return
	}
	s.mu.Unlock()

	s.applyRemote(rc)
}

func (s *Session) applyRemote(rc remoteCandidate) {
	c, err := candidate.Decode(rc.text, rc.sdpMLineIndex)
	if err != nil {
		s.log.Debugf("skipping remote candidate: %v", err)
		return
	}
	c.SDPMid = rc.sdpMid

	if err := s.call("add remote candidate", func() error {
		return s.transport.AddRemoteCandidate(c)
	}); err != nil {
		s.log.Warnf("%v", err)
		return
	}
	s.log.Debugf("added remote candidate type=%s ip=%s port=%d", c.Kind, c.IP, c.Port)

	s.mu.Lock()
	if s.state == AnswerSent {
		s.state = Trickling
	}
	s.mu.Unlock()
}

// OnLocalCandidate trickles a gathered local candidate to the remote peer.
// Candidates gathered before the answer is sent are held back until then.
func (s *Session) OnLocalCandidate(c domain.IceCandidate) {
	if s.filterIPv6 && candidate.IsSuppressedIPv6(c.IP) {
		s.log.Debugf("skipping IPv6 local candidate: %s", c.IP)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return
	case AwaitingOffer:
		s.pendingLocal = append(s.pendingLocal, c)
		return
	}
	s.sendCandidateLocked(c)
}

func (s *Session) sendCandidateLocked(c domain.IceCandidate) {
	payload := domain.ICECandidatePayload{
		Candidate:     candidate.Encode(c),
		SDPMLineIndex: c.SDPMLineIndex,
	}
	if c.SDPMid != "" {
		mid := c.SDPMid
		payload.SDPMid = &mid
	}

	s.log.Infof("local ICE candidate: type=%s ip=%s port=%d", c.Kind, c.IP, c.Port)
	if err := s.sender.SendJSON(domain.ICEMessage{Type: domain.MsgICE, Candidate: payload}); err != nil {
		s.log.Warnf("send candidate: %v", err)
	}
}

// call runs fn and gives up after the call timeout. A timed-out call keeps
// running in the background; its result is discarded.
func (s *Session) call(name string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(s.callTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: %w after %s", name, ErrTransportTimeout, s.callTimeout)
	}
}

// filterIPv6Candidates removes candidate attributes with a non-mapped IPv6
// address from every media section of an SDP body.
func filterIPv6Candidates(raw string) (string, int, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return raw, 0, fmt.Errorf("parse SDP: %w", err)
	}

	removed := 0
	keep := func(attrs []sdp.Attribute) []sdp.Attribute {
		out := attrs[:0]
		for _, a := range attrs {
			if a.Key == "candidate" {
				fields := strings.Fields(a.Value)
				if len(fields) > 4 && candidate.IsSuppressedIPv6(fields[4]) {
					removed++
					continue
				}
			}
			out = append(out, a)
		}
		return out
	}

	desc.Attributes = keep(desc.Attributes)
	for _, m := range desc.MediaDescriptions {
		m.Attributes = keep(m.Attributes)
	}

	if removed == 0 {
		return raw, 0, nil
	}

	out, err := desc.Marshal()
	if err != nil {
		return raw, 0, fmt.Errorf("marshal SDP: %w", err)
	}
	return string(out), removed, nil
}
