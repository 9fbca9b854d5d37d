package signal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"framebridge/native/internal/domain"
)

// inbound is the union of every message shape the viewer endpoint delivers.
type inbound struct {
	Type          domain.MessageType `json:"type"`
	SDP           string             `json:"sdp,omitempty"`
	Candidate     json.RawMessage    `json:"candidate,omitempty"`
	SDPMLineIndex *uint16            `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string            `json:"sdpMid,omitempty"`
	Status        string             `json:"status,omitempty"`
}

// candidateObject is the object form of the "candidate" field. Its
// sdpMLineIndex may be omitted by the sender.
type candidateObject struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	SDPMid        *string `json:"sdpMid"`
}

// remoteCandidate is a candidate line as received, before decoding.
type remoteCandidate struct {
	text          string
	sdpMid        string
	sdpMLineIndex uint16
}

// candidate extracts the candidate carried by an "ice" message. ok is false
// for a null or empty candidate (end of candidates).
func (m *inbound) candidate() (rc remoteCandidate, ok bool, err error) {
	raw := bytes.TrimSpace(m.Candidate)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return remoteCandidate{}, false, nil
	}

	if m.SDPMLineIndex != nil {
		rc.sdpMLineIndex = *m.SDPMLineIndex
	}
	if m.SDPMid != nil {
		rc.sdpMid = *m.SDPMid
	}

	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &rc.text); err != nil {
			return remoteCandidate{}, false, fmt.Errorf("candidate string: %w", err)
		}
	case '{':
		var obj candidateObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return remoteCandidate{}, false, fmt.Errorf("candidate object: %w", err)
		}
		rc.text = obj.Candidate
		if obj.SDPMLineIndex != nil {
			rc.sdpMLineIndex = *obj.SDPMLineIndex
		}
		if obj.SDPMid != nil {
			rc.sdpMid = *obj.SDPMid
		}
	default:
		return remoteCandidate{}, false, fmt.Errorf("candidate: unexpected JSON %.20q", raw)
	}

	return rc, rc.text != "", nil
}
