package webrtc

import (
	"bytes"

	"github.com/pion/rtp"
)

const (
	naluTypeIDR   = 5
	naluTypeSPS   = 7
	naluTypeSTAPA = 24
	naluTypeFUA   = 28
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Depacketizer extracts NAL units from RTP H264 payloads.
// It maintains instance state for FU-A fragment reassembly and drops a
// fragment chain when an RTP sequence gap is seen inside it.
type H264Depacketizer struct {
	fuaBuf    []byte
	fuaActive bool
	lastSeq   uint16
}

// NewH264Depacketizer creates a new depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize extracts NAL units from an RTP H264 payload with sequence
// number seq. Handles single NAL, STAP-A, and FU-A packet types.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		d.resetFUA()
		return [][]byte{payload}

	case naluType == naluTypeSTAPA:
		d.resetFUA()
		return d.depacketizeSTAPA(payload)

	case naluType == naluTypeFUA:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

func (d *H264Depacketizer) resetFUA() {
	d.fuaBuf = nil
	d.fuaActive = false
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1 // skip STAP-A header byte

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	fnri := payload[0] & 0xe0 // F + NRI bits from FU indicator
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	switch {
	case start:
		// Reconstruct NAL header: F+NRI from FU indicator + type from FU header
		d.fuaBuf = append([]byte{fnri | naluType}, payload[2:]...)
		d.fuaActive = true
	case !d.fuaActive:
		return nil
	case seq != d.lastSeq+1:
		d.resetFUA()
		return nil
	default:
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}
	d.lastSeq = seq

	if end {
		nalu := d.fuaBuf
		d.resetFUA()
		return [][]byte{nalu}
	}

	return nil
}

// accessUnitAssembler joins the NAL units of one picture into an Annex-B
// access unit, completed by the RTP marker bit. Nothing is emitted until the
// first access unit carrying SPS or IDR so the decoder starts on a keyframe.
type accessUnitAssembler struct {
	depack   *H264Depacketizer
	buf      bytes.Buffer
	keyframe bool
	started  bool
}

func newAccessUnitAssembler() *accessUnitAssembler {
	return &accessUnitAssembler{depack: NewH264Depacketizer()}
}

// push adds pkt and returns a complete access unit when pkt ends one.
func (a *accessUnitAssembler) push(pkt *rtp.Packet) []byte {
	for _, nalu := range a.depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1f {
		case naluTypeSPS, naluTypeIDR:
			a.keyframe = true
		}
		a.buf.Write(annexBStartCode)
		a.buf.Write(nalu)
	}

	if !pkt.Marker || a.buf.Len() == 0 {
		return nil
	}

	defer a.buf.Reset()
	key := a.keyframe
	a.keyframe = false
	if !a.started && !key {
		return nil
	}
	a.started = true
	return bytes.Clone(a.buf.Bytes())
}
