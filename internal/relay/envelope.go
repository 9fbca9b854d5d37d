package relay

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// HeaderSize is the length of the timestamp header that precedes every
// frame payload on the frame-output channel.
const HeaderSize = 8

// Timestamp converts t to wall-clock seconds as carried in the header.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// PutHeader writes ts as a little-endian IEEE-754 double into b[:8].
func PutHeader(b []byte, ts float64) {
	binary.LittleEndian.PutUint64(b[:HeaderSize], math.Float64bits(ts))
}

// EncodeEnvelope returns header || payload. There is no length field; the
// payload ends at the message boundary.
func EncodeEnvelope(ts float64, payload []byte) []byte {
	msg := make([]byte, HeaderSize+len(payload))
	PutHeader(msg, ts)
	copy(msg[HeaderSize:], payload)
	return msg
}

// DecodeEnvelope splits a frame message into its timestamp and payload.
func DecodeEnvelope(msg []byte) (float64, []byte, error) {
	if len(msg) < HeaderSize {
		return 0, nil, fmt.Errorf("frame message too short: %d bytes", len(msg))
	}
	ts := math.Float64frombits(binary.LittleEndian.Uint64(msg[:HeaderSize]))
	return ts, msg[HeaderSize:], nil
}
