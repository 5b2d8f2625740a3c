// Package avtest provides canned H.264 access units for tests.
package avtest

// 320x240 baseline profile, level 3.0
var (
	SPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x05, 0x07, 0xe4}
	PPS = []byte{0x68, 0xce, 0x38, 0x80}

	IDR    = []byte{0x65, 0x88, 0x84, 0x21, 0xa0}
	NonIDR = []byte{0x41, 0x9a, 0x02, 0x10}
)

const (
	Width  = 320
	Height = 240
)

var startCode = []byte{0, 0, 0, 1}

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = append(b, startCode...)
		b = append(b, n...)
	}
	return b
}

// Config is the payload of a config packet sent by the device.
func Config() []byte {
	return AnnexB(SPS, PPS)
}

func KeyFrame() []byte {
	return AnnexB(IDR)
}

func InterFrame() []byte {
	return AnnexB(NonIDR)
}
