package recorder

import (
	"io"

	"screenlive/pkg/av"
	"screenlive/pkg/protocol/frame"
)

// rawMuxer keeps the device wire format, the file can be fed back to a demuxer.
type rawMuxer struct {
	w *frame.Writer
}

func (m *rawMuxer) open(w io.Writer, codec *av.Codec) error {
	m.w = frame.NewWriter(w)
	return m.w.WriteCodecTag(codec.Tag)
}

func (m *rawMuxer) write(pkt *av.Packet) error {
	return m.w.WritePacket(pkt)
}

func (m *rawMuxer) close() error {
	return nil
}
