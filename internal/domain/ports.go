package domain

import "context"

// TokenFetcher retrieves a room access token from the authentication backend.
type TokenFetcher interface {
	FetchToken(ctx context.Context, req JoinRequest) (string, error)
}

// MediaSession is a single connection to a room on the media server.
// Disconnect must be safe to call more than once.
type MediaSession interface {
	// Events returns the session's event stream. It is closed once the
	// session is disconnected.
	Events() <-chan Event
	Connect(ctx context.Context, url, token string) error
	Disconnect()

	SetCameraFacing(facing CameraFacing)
	SetCameraEnabled(ctx context.Context, enabled bool) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	CameraEnabled() bool
	MicrophoneEnabled() bool
}

// SessionFactory creates unconnected media sessions.
type SessionFactory interface {
	NewSession(opts SessionOptions) (MediaSession, error)
}

// Observer receives the terminal outcome of a session attempt.
type Observer interface {
	OnConnected()
	OnFailure(reason string)
}

// DisconnectObserver is implemented by observers that also want to know
// when an established session is lost.
type DisconnectObserver interface {
	OnDisconnected(reason string)
}

// Executor runs callbacks on a designated context, in submission order.
type Executor interface {
	Post(fn func())
}
