package frame

import (
	"io"
	"net"

	"github.com/pkg/errors"

	"screenlive/pkg/av"
	"screenlive/pkg/common"
)

// Writer produces a stream in the device wire format: one codec tag, then
// header+payload frames.
type Writer struct {
	w   io.Writer
	hdr [HeaderSize]byte

	tagWritten bool
	written    int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteCodecTag(tag uint32) error {
	if w.tagWritten {
		return errors.New("codec tag already written")
	}

	common.UintAsBytes(tag, w.hdr[:CodecTagSize], true)
	n, err := w.w.Write(w.hdr[:CodecTagSize])
	w.written += int64(n)
	if err != nil {
		return errors.Wrap(err, "write codec tag")
	}

	w.tagWritten = true
	return nil
}

func (w *Writer) WritePacket(pkt *av.Packet) error {
	h, err := HeaderOf(pkt)
	if err != nil {
		return errors.Wrap(err, "build header")
	}

	if _, err := h.Encode(w.hdr[:]); err != nil {
		return errors.Wrap(err, "encode header")
	}

	// header和payload合并写出, net.Conn上为一次writev
	bufs := net.Buffers{w.hdr[:], pkt.Data}
	n, err := bufs.WriteTo(w.w)
	w.written += n
	if err != nil {
		return errors.Wrapf(err, "write packet, %d bytes payload", len(pkt.Data))
	}

	return nil
}

// Written returns the number of bytes handed to the underlying writer.
func (w *Writer) Written() int64 {
	return w.written
}

// AppendPacket appends the framed packet to dst.
func AppendPacket(dst []byte, pkt *av.Packet) ([]byte, error) {
	h, err := HeaderOf(pkt)
	if err != nil {
		return dst, err
	}

	var hdr [HeaderSize]byte
	_, _ = h.Encode(hdr[:])

	dst = append(dst, hdr[:]...)
	return append(dst, pkt.Data...), nil
}

// CodecTagBytes returns the 4-byte big-endian tag.
func CodecTagBytes(tag uint32) []byte {
	b := make([]byte, CodecTagSize)
	common.UintAsBytes(tag, b, true)
	return b
}
