package livekit

import (
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// Traffic is a snapshot of outgoing RTP traffic.
type Traffic struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// sendCounter is an interceptor counting RTP packets written on local
// streams. One instance is shared by every peer connection of a factory.
type sendCounter struct {
	interceptor.NoOp
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (c *sendCounter) NewInterceptor(string) (interceptor.Interceptor, error) {
	return c, nil
}

func (c *sendCounter) BindLocalStream(_ *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, attrs interceptor.Attributes) (int, error) {
		n, err := writer.Write(header, payload, attrs)
		if err == nil {
			c.packets.Add(1)
			c.bytes.Add(uint64(n))
		}
		return n, err
	})
}

// Close is a no-op: the counter outlives the connections it is bound to.
func (c *sendCounter) Close() error { return nil }

func (c *sendCounter) snapshot() Traffic {
	return Traffic{Packets: c.packets.Load(), Bytes: c.bytes.Load()}
}
