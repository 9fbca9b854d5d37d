package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"framebridge/native/internal/candidate"
	"framebridge/native/internal/domain"
	"framebridge/native/internal/logx"
)

// pliInterval is how often a keyframe is requested from the remote sender.
const pliInterval = 2 * time.Second

// ErrListenerSet is returned when SetListener is called twice.
var ErrListenerSet = errors.New("listener already registered")

// Options configures a Peer.
type Options struct {
	STUNServers   []string
	NewDecoder    DecoderFactory
	LoggerFactory logging.LoggerFactory
}

// Peer is the answering side of a PeerConnection. It implements
// domain.Transport and reports events to one domain.Listener.
type Peer struct {
	pc         *pion.PeerConnection
	newDecoder DecoderFactory
	log        logging.LeveledLogger
	lf         logging.LoggerFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listener  domain.Listener
	closing   bool
	closeOnce sync.Once
	closeErr  error
}

var _ domain.Transport = (*Peer)(nil)

// h264Codecs are the H264 variants offered by browsers and common cameras.
var h264Codecs = []struct {
	payloadType pion.PayloadType
	fmtp        string
}{
	{102, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f"},
	{127, "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=42001f"},
	{125, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
	{108, "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=42e01f"},
	{123, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640032"},
	{121, "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=64001f"},
}

// NewPeer creates a PeerConnection with explicit codec registration and the
// receiver-side interceptors.
func NewPeer(opts Options) (*Peer, error) {
	if opts.LoggerFactory == nil {
		opts.LoggerFactory = logx.Discard()
	}
	if opts.NewDecoder == nil {
		return nil, errors.New("no decoder factory")
	}

	m := &pion.MediaEngine{}

	videoFeedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}
	for _, c := range h264Codecs {
		codec := pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  c.fmtp,
				RTCPFeedback: videoFeedback,
			},
			PayloadType: c.payloadType,
		}
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register H264 pt=%d: %w", c.payloadType, err)
		}
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	pcmuCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 0,
	}
	if err := m.RegisterCodec(pcmuCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	i := &interceptor.Registry{}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(pliInterval))
	if err != nil {
		return nil, fmt.Errorf("create pli generator: %w", err)
	}
	i.Add(pli)

	receiverReports, err := report.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create receiver reports: %w", err)
	}
	i.Add(receiverReports)

	se := pion.SettingEngine{LoggerFactory: opts.LoggerFactory}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	var servers []pion.ICEServer
	if len(opts.STUNServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: opts.STUNServers})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		pc:         pc,
		newDecoder: opts.NewDecoder,
		log:        opts.LoggerFactory.NewLogger("webrtc"),
		lf:         opts.LoggerFactory,
		ctx:        ctx,
		cancel:     cancel,
	}
	p.registerCallbacks()
	return p, nil
}

// SetListener registers the event listener. It may be called once.
func (p *Peer) SetListener(l domain.Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return ErrListenerSet
	}
	p.listener = l
	return nil
}

func (p *Peer) currentListener() domain.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

func (p *Peer) registerCallbacks() {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Info("ICE gathering complete")
			return
		}
		if l := p.currentListener(); l != nil {
			l.OnLocalCandidate(fromPionCandidate(c))
		}
	})

	p.pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Infof("ICE connection state: %s", state)
		if l := p.currentListener(); l != nil {
			l.OnICEStateChange(state.String())
		}
	})

	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Infof("peer connection state: %s", state)
		if l := p.currentListener(); l != nil {
			l.OnConnectionStateChange(state.String())
		}
	})

	p.pc.OnDataChannel(func(dc *pion.DataChannel) {
		p.log.Infof("data channel %q opened by remote", dc.Label())
		if l := p.currentListener(); l != nil {
			l.OnDataChannel(&dataChannel{dc: dc})
		}
	})

	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)

		if track.Kind() != pion.RTPCodecTypeVideo {
			p.drain(track)
			return
		}

		src, err := p.startTrack(track)
		if err != nil {
			p.log.Errorf("video track %s: %v", track.ID(), err)
			p.drain(track)
			return
		}
		if l := p.currentListener(); l != nil {
			l.OnRemoteTrack(src)
		}
	})
}

// drain discards packets of a track nobody consumes so its buffers don't fill.
func (p *Peer) drain(track *pion.TrackRemote) {
	p.goTask(func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})
}

// SetRemoteDescription applies the remote offer.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	offer := pion.SessionDescription{
		Type: pion.SDPTypeOffer,
		SDP:  sdp.SDP,
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.log.Info("remote SDP offer set")
	return nil
}

// CreateAnswer generates the local answer.
func (p *Peer) CreateAnswer() (domain.SDPPayload, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SDPPayload{Type: domain.MsgAnswer, SDP: answer.SDP}, nil
}

// SetLocalDescription applies the answer and starts ICE gathering.
func (p *Peer) SetLocalDescription(sdp domain.SDPPayload) error {
	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.log.Info("local SDP answer set")
	return nil
}

// AddRemoteCandidate adds a trickled remote candidate.
func (p *Peer) AddRemoteCandidate(c domain.IceCandidate) error {
	index := c.SDPMLineIndex
	init := pion.ICECandidateInit{
		Candidate:     candidate.Encode(c),
		SDPMLineIndex: &index,
	}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// ConnectionState returns the peer connection state name.
func (p *Peer) ConnectionState() string {
	return p.pc.ConnectionState().String()
}

// ICEConnectionState returns the ICE connection state name.
func (p *Peer) ICEConnectionState() string {
	return p.pc.ICEConnectionState().String()
}

// Close shuts down the PeerConnection and waits for track readers.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()
		p.cancel()
		p.closeErr = p.pc.Close()
		p.wg.Wait()
	})
	return p.closeErr
}

func fromPionCandidate(c *pion.ICECandidate) domain.IceCandidate {
	out := domain.IceCandidate{
		Foundation: c.Foundation,
		Component:  c.Component,
		Protocol:   domain.Protocol(c.Protocol.String()),
		Priority:   c.Priority,
		IP:         c.Address,
		Port:       c.Port,
		Kind:       domain.CandidateKind(c.Typ.String()),
	}
	init := c.ToJSON()
	if init.SDPMid != nil {
		out.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		out.SDPMLineIndex = *init.SDPMLineIndex
	}
	return out
}

// dataChannel adapts a pion DataChannel to domain.DataChannel.
type dataChannel struct {
	dc *pion.DataChannel
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) IsOpen() bool {
	return d.dc.ReadyState() == pion.DataChannelStateOpen
}

func (d *dataChannel) SendText(s string) error { return d.dc.SendText(s) }

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnMessage(fn func(msg string)) {
	d.dc.OnMessage(func(msg pion.DataChannelMessage) {
		fn(string(msg.Data))
	})
}
