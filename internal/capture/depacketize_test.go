package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type rtpPayload struct {
	seq  uint16
	data []byte
}

// FU-A fragments of an IDR slice with NRI=3: indicator 0x7C, header type 5
// with S (0x80) or E (0x40) set.
var (
	fuStart = []byte{0x7C, 0x85, 0x01, 0x02}
	fuMid   = []byte{0x7C, 0x05, 0x03, 0x04}
	fuEnd   = []byte{0x7C, 0x45, 0x05, 0x06}
)

func TestH264Depacketizer(t *testing.T) {
	cases := []struct {
		name    string
		packets []rtpPayload
		want    [][]byte
	}{
		{
			name:    "single NAL",
			packets: []rtpPayload{{100, []byte{0x65, 0x01, 0x02, 0x03}}},
			want:    [][]byte{{0x65, 0x01, 0x02, 0x03}},
		},
		{
			name: "STAP-A carries SPS and PPS",
			packets: []rtpPayload{{100, []byte{
				0x18,
				0x00, 0x03, 0x67, 0xAA, 0xBB,
				0x00, 0x02, 0x68, 0xCC,
			}}},
			want: [][]byte{{0x67, 0xAA, 0xBB}, {0x68, 0xCC}},
		},
		{
			name:    "STAP-A zero size stops parsing",
			packets: []rtpPayload{{100, []byte{0x18, 0x00, 0x00}}},
		},
		{
			name:    "FU-A reassembled with NAL header restored",
			packets: []rtpPayload{{100, fuStart}, {101, fuMid}, {102, fuEnd}},
			want:    [][]byte{{0x65, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}},
		},
		{
			name:    "FU-A dropped on sequence gap",
			packets: []rtpPayload{{100, fuStart}, {102, fuMid}, {103, fuEnd}},
		},
		{
			name:    "FU-A across sequence wraparound",
			packets: []rtpPayload{{65535, []byte{0x7C, 0x85, 0xAA}}, {0, []byte{0x7C, 0x45, 0xBB}}},
			want:    [][]byte{{0x65, 0xAA, 0xBB}},
		},
		{
			name: "single NAL interrupts pending FU-A",
			packets: []rtpPayload{
				{10, []byte{0x7C, 0x85, 0x01}},
				{11, []byte{0x41, 0x9A}},
				{12, []byte{0x7C, 0x45, 0x02}},
			},
			want: [][]byte{{0x41, 0x9A}},
		},
		{
			name:    "empty payloads",
			packets: []rtpPayload{{0, nil}, {1, []byte{}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewH264Depacketizer()
			var got [][]byte
			for _, p := range tc.packets {
				got = append(got, d.Depacketize(p.seq, p.data)...)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestH264Depacketizer_FragmentsNotYetComplete(t *testing.T) {
	d := NewH264Depacketizer()

	assert.Nil(t, d.Depacketize(100, fuStart))
	assert.Nil(t, d.Depacketize(101, fuMid))
	assert.Len(t, d.Depacketize(102, fuEnd), 1)
}

func TestH264Depacketizer_StateIsPerInstance(t *testing.T) {
	d1 := NewH264Depacketizer()
	d2 := NewH264Depacketizer()

	d1.Depacketize(100, fuStart)

	assert.Nil(t, d2.Depacketize(101, fuEnd), "orphan end fragment")
	assert.Len(t, d1.Depacketize(101, fuEnd), 1)
}
