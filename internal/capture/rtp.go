package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	h264ClockRate = 90000
	rtpReadPoll   = 200 * time.Millisecond
	rtpMTU        = 1500
)

// RTPSource receives H264 over RTP on a UDP port and emits one sample per
// access unit. The marker bit ends an access unit.
type RTPSource struct {
	conn   *net.UDPConn
	depack *H264Depacketizer
	frame  time.Duration
	buf    []byte
	au     []byte
	lastTS uint32
	haveTS bool
}

// ListenRTP binds addr (host:port). fps is only used until packet
// timestamps give the real frame spacing.
func ListenRTP(addr string, fps int) (*RTPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &RTPSource{
		conn:   conn,
		depack: NewH264Depacketizer(),
		frame:  frameDuration(fps),
		buf:    make([]byte, rtpMTU),
	}, nil
}

// Addr is the bound local address.
func (s *RTPSource) Addr() net.Addr { return s.conn.LocalAddr() }

func (s *RTPSource) MimeType() string { return webrtc.MimeTypeH264 }

// NextSample blocks until a full access unit arrived or ctx ends.
func (s *RTPSource) NextSample(ctx context.Context) (media.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return media.Sample{}, err
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(rtpReadPoll))
		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return media.Sample{}, fmt.Errorf("read rtp: %w", err)
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(s.buf[:n]); err != nil {
			continue
		}
		for _, nalu := range s.depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			s.au = append(s.au, annexBStartCode...)
			s.au = append(s.au, nalu...)
		}
		if !pkt.Marker || len(s.au) == 0 {
			continue
		}

		d := s.frame
		if s.haveTS {
			if delta := pkt.Timestamp - s.lastTS; delta > 0 && delta < h264ClockRate {
				d = time.Duration(delta) * time.Second / h264ClockRate
			}
		}
		s.lastTS, s.haveTS = pkt.Timestamp, true

		data := s.au
		s.au = nil
		return media.Sample{Data: data, Duration: d}, nil
	}
}

func (s *RTPSource) Close() error {
	return s.conn.Close()
}
