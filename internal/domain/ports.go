package domain

import (
	"context"
	"image"
)

// StatusFetcher reports how many peers the signaling server currently holds.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) (*ServerStatus, error)
}

// Sender writes JSON messages to the signaling channel.
type Sender interface {
	SendJSON(v any) error
}

// Transport is the part of the peer connection the control plane drives.
type Transport interface {
	SetRemoteDescription(sdp SDPPayload) error
	CreateAnswer() (SDPPayload, error)
	SetLocalDescription(sdp SDPPayload) error
	AddRemoteCandidate(c IceCandidate) error
	ConnectionState() string
	ICEConnectionState() string
	Close() error
}

// Listener receives transport events. It is registered once with the
// transport before signaling starts.
type Listener interface {
	OnLocalCandidate(c IceCandidate)
	OnRemoteTrack(track VideoTrack)
	OnConnectionStateChange(state string)
	OnICEStateChange(state string)
	OnDataChannel(ch DataChannel)
}

// VideoTrack delivers decoded frames from a remote video track.
// ReadFrame blocks until a frame is available, the track ends or ctx is done.
type VideoTrack interface {
	ID() string
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// DataChannel is the auxiliary channel opened by the remote peer.
type DataChannel interface {
	Label() string
	IsOpen() bool
	SendText(s string) error
	OnOpen(fn func())
	OnMessage(fn func(msg string))
}

// FrameSink is the binary frame-output channel. Every WriteMessage call is
// delivered as one message.
type FrameSink interface {
	WriteMessage(data []byte) error
	Closed() bool
	Close() error
}
