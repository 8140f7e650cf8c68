package session

// State is the lifecycle state of a Controller.
type State int

const (
	StateIdle State = iota
	StateFetchingToken
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingToken:
		return "fetching_token"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// acceptsStart reports whether a new session attempt may begin.
func (s State) acceptsStart() bool {
	return s == StateIdle || s == StateStopped
}
