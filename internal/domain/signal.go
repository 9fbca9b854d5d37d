package domain

// MessageType tags a signaling message.
type MessageType string

const (
	MsgOffer        MessageType = "offer"
	MsgAnswer       MessageType = "answer"
	MsgICE          MessageType = "ice"
	MsgCameraStatus MessageType = "camera_status"
)

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type MessageType `json:"type"`
	SDP  string      `json:"sdp"`
}

// ICECandidatePayload is the object form of a candidate on the signaling wire.
type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex uint16  `json:"sdpMLineIndex"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

// ICEMessage is an outbound trickled candidate.
type ICEMessage struct {
	Type      MessageType         `json:"type"`
	Candidate ICECandidatePayload `json:"candidate"`
}

// ServerStatus is the signaling server's /status response.
type ServerStatus struct {
	Cameras   int   `json:"cameras"`
	Viewers   int   `json:"viewers"`
	Timestamp int64 `json:"timestamp"`
}
