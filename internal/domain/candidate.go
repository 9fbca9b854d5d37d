package domain

// Protocol is the transport protocol of an ICE candidate.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
)

// CandidateKind is the ICE candidate type ("typ" field).
type CandidateKind string

const (
	KindHost  CandidateKind = "host"
	KindSrflx CandidateKind = "srflx"
	KindRelay CandidateKind = "relay"
	KindPrflx CandidateKind = "prflx"
)

// IceCandidate describes one potential network path offered during
// connectivity establishment.
type IceCandidate struct {
	Foundation    string
	Component     uint16
	Protocol      Protocol
	Priority      uint32
	IP            string
	Port          uint16
	Kind          CandidateKind
	SDPMid        string
	SDPMLineIndex uint16
}
