package domain

// EventKind classifies room events reported by a MediaSession.
type EventKind int

const (
	EventConnected EventKind = iota
	EventReconnecting
	EventReconnected
	EventParticipantJoined
	EventParticipantLeft
	EventTrackPublished
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	case EventTrackPublished:
		return "track_published"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one entry of a session's event stream.
type Event struct {
	Kind        EventKind
	Participant string
	Track       string
	Reason      string
}

// Terminal reports whether the session can no longer carry media after
// this event.
func (e Event) Terminal() bool {
	return e.Kind == EventDisconnected
}
