package domain

// Identity describes the device user joining rooms. It replaces lookups of
// the current user and device from global application state.
type Identity struct {
	UserID   string
	UserName string
	DeviceID string
}

// JoinRequest is captured when a session attempt starts and is only used
// to request the room token.
type JoinRequest struct {
	LinkCode string `json:"linkCode"`
	UserID   string `json:"userId"`
	UserName string `json:"name"`
	DeviceID string `json:"deviceId"`
}

// NewJoinRequest binds a pairing link code to the device identity.
func NewJoinRequest(id Identity, linkCode string) JoinRequest {
	return JoinRequest{
		LinkCode: linkCode,
		UserID:   id.UserID,
		UserName: id.UserName,
		DeviceID: id.DeviceID,
	}
}

// SessionOptions is the fixed transport configuration used for every room.
type SessionOptions struct {
	// AdaptiveStream lets the server pick which remote layers to deliver.
	AdaptiveStream bool
	// Dynacast pauses published layers no subscriber is consuming.
	Dynacast bool
}

// DefaultSessionOptions enables adaptive streaming and server-driven
// layer selection.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{AdaptiveStream: true, Dynacast: true}
}

// CameraFacing selects which local camera feeds the published video track.
type CameraFacing int

const (
	FacingBack CameraFacing = iota
	FacingFront
)

func (f CameraFacing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return "unknown"
	}
}
