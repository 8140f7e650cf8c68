package capture

const (
	naluTypeSTAPA = 24
	naluTypeFUA   = 28
)

// H264Depacketizer extracts NAL units from RTP H264 payloads (RFC 6184).
// FU-A fragments are reassembled per instance; a sequence gap inside a
// fragmented unit drops the whole unit.
type H264Depacketizer struct {
	fuaBuf  []byte
	inFUA   bool
	lastSeq uint16
}

// NewH264Depacketizer creates a depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize returns the complete NAL units carried by one RTP payload.
// seq is the packet's RTP sequence number.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		d.resetFUA()
		return [][]byte{payload}

	case naluType == naluTypeSTAPA:
		d.resetFUA()
		return d.depacketizeSTAPA(payload)

	case naluType == naluTypeFUA:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	fnri := payload[0] & 0xe0
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	if start {
		d.fuaBuf = append(d.fuaBuf[:0], fnri|naluType)
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
		d.inFUA = true
		d.lastSeq = seq
	} else {
		if !d.inFUA || seq != d.lastSeq+1 {
			d.resetFUA()
			return nil
		}
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
		d.lastSeq = seq
	}

	if end {
		nalu := make([]byte, len(d.fuaBuf))
		copy(nalu, d.fuaBuf)
		d.resetFUA()
		return [][]byte{nalu}
	}
	return nil
}

func (d *H264Depacketizer) resetFUA() {
	d.inFUA = false
	d.fuaBuf = d.fuaBuf[:0]
}
