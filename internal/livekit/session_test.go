package livekit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"argenie/companion/internal/capture"
	"argenie/companion/internal/domain"

	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePub struct {
	sid string

	mu    sync.Mutex
	muted []bool
}

func (p *fakePub) SID() string { return p.sid }

func (p *fakePub) SetMuted(m bool) {
	p.mu.Lock()
	p.muted = append(p.muted, m)
	p.mu.Unlock()
}

func (p *fakePub) mutes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.muted...)
}

type fakeRoom struct {
	joinErr  error
	joinGate chan struct{}

	mu          sync.Mutex
	joins       []string
	joinOpts    int
	disconnects int
	published   []string
	sources     []lkproto.TrackSource
	unpublished []string
	pubs        map[string]*fakePub
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{pubs: map[string]*fakePub{}}
}

func (r *fakeRoom) JoinWithToken(url, token string, opts ...lksdk.ConnectOption) error {
	if r.joinGate != nil {
		<-r.joinGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, url+" "+token)
	r.joinOpts = len(opts)
	return r.joinErr
}

func (r *fakeRoom) Disconnect() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

func (r *fakeRoom) PublishTrack(_ webrtc.TrackLocal, opts *lksdk.TrackPublicationOptions) (publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pub := &fakePub{sid: "TR_" + opts.Name}
	r.pubs[opts.Name] = pub
	r.published = append(r.published, opts.Name)
	r.sources = append(r.sources, opts.Source)
	return pub, nil
}

func (r *fakeRoom) UnpublishTrack(sid string) error {
	r.mu.Lock()
	r.unpublished = append(r.unpublished, sid)
	r.mu.Unlock()
	return nil
}

func (r *fakeRoom) disconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

func (r *fakeRoom) pub(name string) *fakePub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubs[name]
}

type fakeSource struct {
	mime    string
	samples chan media.Sample

	mu     sync.Mutex
	closed bool
}

func (s *fakeSource) MimeType() string { return s.mime }

func (s *fakeSource) NextSample(ctx context.Context) (media.Sample, error) {
	select {
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	case sample := <-s.samples:
		return sample, nil
	}
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeTrack struct {
	*webrtc.TrackLocalStaticSample
	codec   webrtc.RTPCodecCapability
	written chan media.Sample
}

func (t *fakeTrack) WriteSample(s media.Sample, _ *lksdk.SampleWriteOptions) error {
	t.written <- s
	return nil
}

type harness struct {
	session *Session
	room    *fakeRoom
	sources map[string]*fakeSource

	mu     sync.Mutex
	tracks []*fakeTrack
}

var testDevices = capture.Config{
	BackCamera:  "rtp://127.0.0.1:5004",
	FrontCamera: "rtp://127.0.0.1:5006",
	FPS:         30,
}

func newHarness(t *testing.T, devices capture.Config) *harness {
	t.Helper()
	h := &harness{
		room: newFakeRoom(),
		sources: map[string]*fakeSource{
			"rtp://127.0.0.1:5004": {mime: webrtc.MimeTypeH264, samples: make(chan media.Sample)},
			"rtp://127.0.0.1:5006": {mime: webrtc.MimeTypeH264, samples: make(chan media.Sample)},
			"file:///mic.ogg":      {mime: webrtc.MimeTypeOpus, samples: make(chan media.Sample)},
		},
	}

	f := NewFactory(devices, WithLogger(zerolog.Nop()))
	f.newRoom = func(*lksdk.RoomCallback) room { return h.room }
	f.openSource = func(uri string, _ int) (capture.Source, error) {
		if uri == "" {
			return nil, capture.ErrNoSource
		}
		src, ok := h.sources[uri]
		if !ok {
			return nil, capture.ErrUnsupported
		}
		return src, nil
	}
	f.newTrack = func(c webrtc.RTPCodecCapability) (sampleTrack, error) {
		base, err := webrtc.NewTrackLocalStaticSample(c, "track", "stream")
		if err != nil {
			return nil, err
		}
		tr := &fakeTrack{TrackLocalStaticSample: base, codec: c, written: make(chan media.Sample, 8)}
		h.mu.Lock()
		h.tracks = append(h.tracks, tr)
		h.mu.Unlock()
		return tr, nil
	}

	sess, err := f.NewSession(domain.DefaultSessionOptions())
	require.NoError(t, err)
	h.session = sess.(*Session)
	t.Cleanup(h.session.Disconnect)
	return h
}

func (h *harness) track(i int) *fakeTrack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tracks[i]
}

func nextEvent(t *testing.T, events <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return domain.Event{}
	}
}

func TestSession_ConnectJoinsWithToken(t *testing.T) {
	h := newHarness(t, testDevices)

	require.NoError(t, h.session.Connect(context.Background(), "wss://lk.example", "tok-1"))
	assert.Equal(t, []string{"wss://lk.example tok-1"}, h.room.joins)
	assert.Equal(t, 2, h.room.joinOpts)
	assert.Equal(t, domain.EventConnected, nextEvent(t, h.session.Events()).Kind)

	assert.ErrorIs(t, h.session.Connect(context.Background(), "wss://lk.example", "tok-1"), errAlreadyJoined)

	h.session.Disconnect()
	assert.Equal(t, 1, h.room.disconnectCount())
}

func TestSession_ConnectFailure(t *testing.T) {
	h := newHarness(t, testDevices)
	h.room.joinErr = errors.New("could not establish signal connection")

	err := h.session.Connect(context.Background(), "wss://lk.example", "tok-1")
	assert.ErrorContains(t, err, "join room: could not establish signal connection")

	h.session.Disconnect()
	assert.Equal(t, 0, h.room.disconnectCount())
}

func TestSession_ConnectCancelledLeavesLateJoin(t *testing.T) {
	h := newHarness(t, testDevices)
	h.room.joinGate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.session.Connect(ctx, "wss://lk.example", "tok-1") }()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	h.session.Disconnect()
	assert.Equal(t, 0, h.room.disconnectCount())

	close(h.room.joinGate)
	assert.Eventually(t, func() bool { return h.room.disconnectCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_DisconnectIdempotentAndClosesEvents(t *testing.T) {
	h := newHarness(t, testDevices)

	h.session.Disconnect()
	h.session.Disconnect()

	_, ok := <-h.session.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, h.session.Connect(context.Background(), "wss://lk.example", "tok"), errClosed)
	assert.ErrorIs(t, h.session.SetCameraEnabled(context.Background(), true), errClosed)
}

func TestSession_CameraPublishesAndForwardsSamples(t *testing.T) {
	h := newHarness(t, testDevices)

	require.NoError(t, h.session.SetCameraEnabled(context.Background(), true))
	assert.True(t, h.session.CameraEnabled())
	assert.Equal(t, []string{"camera-back"}, h.room.published)
	assert.Equal(t, []lkproto.TrackSource{lkproto.TrackSource_CAMERA}, h.room.sources)
	assert.Equal(t, webrtc.MimeTypeH264, h.track(0).codec.MimeType)

	ev := nextEvent(t, h.session.Events())
	assert.Equal(t, domain.EventTrackPublished, ev.Kind)
	assert.Equal(t, "camera-back", ev.Track)

	sample := media.Sample{Data: []byte{0, 0, 0, 1, 0x65}, Duration: time.Second / 30}
	h.sources["rtp://127.0.0.1:5004"].samples <- sample
	select {
	case got := <-h.track(0).written:
		assert.Equal(t, sample, got)
	case <-time.After(2 * time.Second):
		t.Fatal("sample not written")
	}
}

func TestSession_CameraMuteDropsSamples(t *testing.T) {
	h := newHarness(t, testDevices)
	require.NoError(t, h.session.SetCameraEnabled(context.Background(), true))

	require.NoError(t, h.session.SetCameraEnabled(context.Background(), false))
	require.NoError(t, h.session.SetCameraEnabled(context.Background(), false))
	assert.False(t, h.session.CameraEnabled())
	assert.Equal(t, []bool{true}, h.room.pub("camera-back").mutes())

	src := h.sources["rtp://127.0.0.1:5004"]
	src.samples <- media.Sample{Data: []byte{1}}
	src.samples <- media.Sample{Data: []byte{2}}
	assert.Empty(t, h.track(0).written)

	require.NoError(t, h.session.SetCameraEnabled(context.Background(), true))
	assert.True(t, h.session.CameraEnabled())
	assert.Equal(t, []bool{true, false}, h.room.pub("camera-back").mutes())
	assert.Len(t, h.room.published, 1)
}

func TestSession_FacingChangeRepublishes(t *testing.T) {
	h := newHarness(t, testDevices)
	require.NoError(t, h.session.SetCameraEnabled(context.Background(), true))

	h.session.SetCameraFacing(domain.FacingFront)
	require.NoError(t, h.session.SetCameraEnabled(context.Background(), true))

	assert.Equal(t, []string{"camera-back", "camera-front"}, h.room.published)
	assert.Equal(t, []string{"TR_camera-back"}, h.room.unpublished)
	assert.True(t, h.sources["rtp://127.0.0.1:5004"].isClosed())
	assert.False(t, h.sources["rtp://127.0.0.1:5006"].isClosed())
}

func TestSession_MicrophoneWithoutDevice(t *testing.T) {
	h := newHarness(t, testDevices)

	err := h.session.SetMicrophoneEnabled(context.Background(), true)
	assert.ErrorIs(t, err, capture.ErrNoSource)
	assert.False(t, h.session.MicrophoneEnabled())
	assert.NoError(t, h.session.SetMicrophoneEnabled(context.Background(), false))
}

func TestSession_MicrophonePublishesOpus(t *testing.T) {
	devices := testDevices
	devices.Microphone = "file:///mic.ogg"
	h := newHarness(t, devices)

	require.NoError(t, h.session.SetMicrophoneEnabled(context.Background(), true))
	assert.True(t, h.session.MicrophoneEnabled())
	assert.Equal(t, []lkproto.TrackSource{lkproto.TrackSource_MICROPHONE}, h.room.sources)
	assert.Equal(t, webrtc.MimeTypeOpus, h.track(0).codec.MimeType)

	require.NoError(t, h.session.SetMicrophoneEnabled(context.Background(), false))
	assert.False(t, h.session.MicrophoneEnabled())
}

func TestSession_PublishHonoursContext(t *testing.T) {
	h := newHarness(t, testDevices)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.session.SetCameraEnabled(ctx, true), context.Canceled)
	assert.Empty(t, h.room.published)
}

func TestSession_DisconnectStopsCapture(t *testing.T) {
	devices := testDevices
	devices.Microphone = "file:///mic.ogg"
	h := newHarness(t, devices)
	require.NoError(t, h.session.SetCameraEnabled(context.Background(), true))
	require.NoError(t, h.session.SetMicrophoneEnabled(context.Background(), true))

	h.session.Disconnect()

	assert.True(t, h.sources["rtp://127.0.0.1:5004"].isClosed())
	assert.True(t, h.sources["file:///mic.ogg"].isClosed())
	assert.False(t, h.session.CameraEnabled())
	assert.False(t, h.session.MicrophoneEnabled())
}

func TestRoomCallback_MapsReconnects(t *testing.T) {
	var got []domain.EventKind
	cb := roomCallback(func(ev domain.Event) { got = append(got, ev.Kind) })

	cb.OnReconnecting()
	cb.OnReconnected()
	assert.Equal(t, []domain.EventKind{domain.EventReconnecting, domain.EventReconnected}, got)
}

type nopWriter struct{}

func (nopWriter) Write(_ *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
	return len(payload), nil
}

func TestSendCounter(t *testing.T) {
	f := NewFactory(capture.Config{}, WithLogger(zerolog.Nop()))
	ic, err := f.counter.NewInterceptor("pc-1")
	require.NoError(t, err)

	w := ic.BindLocalStream(&interceptor.StreamInfo{}, nopWriter{})
	for i := 0; i < 3; i++ {
		_, err := w.Write(&rtp.Header{SequenceNumber: uint16(i)}, make([]byte, 100), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, Traffic{Packets: 3, Bytes: 300}, f.Traffic())
}
