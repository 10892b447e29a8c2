package pipeline

// State is the lifecycle state of the capture pipeline
type State int

const (
	// StateStopped means no capture loop exists
	StateStopped State = iota
	// StateRunning means exactly one capture loop is producing frames
	StateRunning
	// StateStopping means a stop was requested and the loop is draining
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
