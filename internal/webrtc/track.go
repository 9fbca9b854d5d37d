package webrtc

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// Decoder turns Annex-B access units into images.
type Decoder interface {
	Write(au []byte) error
	EndInput() error
	Frames() <-chan image.Image
	Err() error
	Close() error
}

// DecoderFactory starts a decoder for one video track. ctx ends when the
// peer closes.
type DecoderFactory func(ctx context.Context) (Decoder, error)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// trackSource is the domain.VideoTrack for a remote H264 track.
type trackSource struct {
	id  string
	dec Decoder
	log logging.LeveledLogger

	closeOnce sync.Once
}

func (p *Peer) startTrack(track *pion.TrackRemote) (*trackSource, error) {
	dec, err := p.newDecoder(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("start decoder: %w", err)
	}
	src := &trackSource{id: track.ID(), dec: dec, log: p.log}
	if !p.goTask(func() { src.pump(track) }) {
		dec.Close()
		return nil, fmt.Errorf("peer closed")
	}
	return src, nil
}

// goTask runs fn as a task joined by Close. It reports false once the peer
// is closing.
func (p *Peer) goTask(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
	return true
}

// pump reads RTP until the track ends and feeds complete access units to
// the decoder.
func (s *trackSource) pump(r rtpReader) {
	defer s.dec.EndInput()

	asm := newAccessUnitAssembler()
	for {
		pkt, _, err := r.ReadRTP()
		if err != nil {
			s.log.Infof("video track %s ended: %v", s.id, err)
			return
		}
		au := asm.push(pkt)
		if au == nil {
			continue
		}
		if err := s.dec.Write(au); err != nil {
			s.log.Warnf("video track %s: %v", s.id, err)
			return
		}
	}
}

func (s *trackSource) ID() string { return s.id }

// ReadFrame returns the next decoded frame.
func (s *trackSource) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case img, ok := <-s.dec.Frames():
		if !ok {
			err := s.dec.Err()
			if err == nil {
				err = io.EOF
			}
			return nil, fmt.Errorf("track %s: %w", s.id, err)
		}
		return img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *trackSource) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.dec.Close() })
	return err
}
