package domain

// LivenessState is the watchdog's verdict on frame arrival cadence.
type LivenessState int

const (
	Healthy LivenessState = iota
	Degraded
	Dead
)

func (s LivenessState) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}
