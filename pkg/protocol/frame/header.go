package frame

import (
	"github.com/pkg/errors"

	"screenlive/pkg/av"
	"screenlive/pkg/common"
)

type Header struct {
	PTSFlags uint64
	Length   uint32 // payload长度, 必须>0
}

func NewHeader(opts ...headerOption) (*Header, error) {
	return (&Header{}).loadOptions(opts...)
}

func (h *Header) loadOptions(opts ...headerOption) (*Header, error) {
	for _, opt := range opts {
		opt(h)
	}

	if h.Length == 0 {
		return nil, ErrEmptyPayload
	}

	return h, nil
}

// DecodeHeader parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) Header {
	return Header{
		PTSFlags: common.BytesAsUint64(b[0:8], true),
		Length:   common.BytesAsUint32(b[8:12], true),
	}
}

func (h *Header) Encode(p []byte) (int, error) {
	if len(p) < HeaderSize {
		return 0, errors.Errorf("header buffer too small: %d", len(p))
	}

	common.Uint64AsBytes(h.PTSFlags, p[0:8], true)
	common.UintAsBytes(h.Length, p[8:12], true)

	return HeaderSize, nil
}

func (h *Header) IsConfig() bool {
	return h.PTSFlags&FlagConfig != 0
}

func (h *Header) IsKeyFrame() bool {
	return h.PTSFlags&FlagKeyFrame != 0
}

// PTS returns the masked timestamp, or av.NoPTS for config packets.
func (h *Header) PTS() int64 {
	if h.IsConfig() {
		return av.NoPTS
	}
	return int64(h.PTSFlags & PTSMask)
}

// PTSFlags packs a timestamp and the packet flags into the wire field.
// The timestamp of a config packet is not transmitted.
func PTSFlags(pts int64, config, keyFrame bool) uint64 {
	var v uint64
	if config {
		v |= FlagConfig
	} else if pts != av.NoPTS {
		v |= uint64(pts) & PTSMask
	}
	if keyFrame {
		v |= FlagKeyFrame
	}
	return v
}

func ParsePTSFlags(v uint64) (pts int64, config, keyFrame bool) {
	h := Header{PTSFlags: v}
	return h.PTS(), h.IsConfig(), h.IsKeyFrame()
}

// HeaderOf builds the wire header describing pkt.
func HeaderOf(pkt *av.Packet) (*Header, error) {
	return NewHeader(
		WithHeaderPTSFlags(PTSFlags(pkt.PTS, pkt.Config, pkt.KeyFrame)),
		WithHeaderLength(uint32(len(pkt.Data))),
	)
}

type headerOption func(*Header)

func WithHeaderPTSFlags(v uint64) headerOption {
	return func(h *Header) {
		h.PTSFlags = v
	}
}

func WithHeaderLength(length uint32) headerOption {
	return func(h *Header) {
		h.Length = length
	}
}

var (
	ErrEmptyPayload = errors.New("zero-length packet payload")
)
