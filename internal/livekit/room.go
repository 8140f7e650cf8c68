package livekit

import (
	"fmt"

	"argenie/companion/internal/domain"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// room is the part of *lksdk.Room a Session drives.
type room interface {
	JoinWithToken(url, token string, opts ...lksdk.ConnectOption) error
	Disconnect()
	PublishTrack(track webrtc.TrackLocal, opts *lksdk.TrackPublicationOptions) (publication, error)
	UnpublishTrack(sid string) error
}

type publication interface {
	SID() string
	SetMuted(muted bool)
}

// sampleTrack is a local track fed with encoded samples.
type sampleTrack interface {
	webrtc.TrackLocal
	WriteSample(sample media.Sample, opts *lksdk.SampleWriteOptions) error
}

type lkRoom struct {
	*lksdk.Room
}

func newLKRoom(cb *lksdk.RoomCallback) room {
	return lkRoom{Room: lksdk.NewRoom(cb)}
}

func (r lkRoom) PublishTrack(track webrtc.TrackLocal, opts *lksdk.TrackPublicationOptions) (publication, error) {
	pub, err := r.LocalParticipant.PublishTrack(track, opts)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func (r lkRoom) UnpublishTrack(sid string) error {
	return r.LocalParticipant.UnpublishTrack(sid)
}

func newLKTrack(c webrtc.RTPCodecCapability) (sampleTrack, error) {
	t, err := lksdk.NewLocalTrack(c)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// roomCallback maps room notifications onto the session's event stream.
func roomCallback(emit func(domain.Event)) *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			emit(domain.Event{Kind: domain.EventDisconnected, Reason: fmt.Sprint(reason)})
		},
		OnReconnecting: func() {
			emit(domain.Event{Kind: domain.EventReconnecting})
		},
		OnReconnected: func() {
			emit(domain.Event{Kind: domain.EventReconnected})
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			emit(domain.Event{Kind: domain.EventParticipantJoined, Participant: rp.Identity()})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			emit(domain.Event{Kind: domain.EventParticipantLeft, Participant: rp.Identity()})
		},
	}
}
