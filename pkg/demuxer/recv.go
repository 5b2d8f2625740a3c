package demuxer

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"screenlive/pkg/av"
	"screenlive/pkg/common"
	"screenlive/pkg/protocol/frame"
)

// ErrEndOfStream reports a clean disconnect: the socket returned fewer bytes
// than requested at a codec tag, header or payload boundary.
var ErrEndOfStream = errors.New("end of stream")

var (
	ErrUnknownCodec   = errors.New("unknown codec")
	ErrCodecNotFound  = errors.New("decoder not found")
	ErrPacketTooLarge = errors.New("packet too large")
)

func isEndOfStream(err error) bool {
	return errors.Cause(err) == ErrEndOfStream
}

func (d *Demuxer) recvCodecTag() (uint32, error) {
	tag, err := common.ReadBytesAsUint32(d.conn, d.hdr[:frame.CodecTagSize], true)
	if err != nil {
		d.logger.Debug("short read on codec tag", zap.Error(err))
		return 0, ErrEndOfStream
	}

	return tag, nil
}

// recvPacket reads one header+payload pair. A partially read packet is
// discarded and never returned.
func (d *Demuxer) recvPacket() (*av.Packet, error) {
	if _, err := d.conn.Read(d.hdr[:]); err != nil {
		d.logger.Debug("short read on packet header", zap.Error(err))
		return nil, ErrEndOfStream
	}

	h := frame.DecodeHeader(d.hdr[:])
	if h.Length == 0 {
		return nil, frame.ErrEmptyPayload
	}

	if d.maxPacketSize > 0 && h.Length > d.maxPacketSize {
		return nil, errors.Wrapf(ErrPacketTooLarge, "length %d exceeds %d", h.Length, d.maxPacketSize)
	}

	data := make([]byte, h.Length)
	if n, err := d.conn.Read(data); err != nil {
		d.logger.Debug("short read on packet payload",
			zap.Uint32("length", h.Length),
			zap.Int("received", n),
			zap.Error(err))
		return nil, ErrEndOfStream
	}

	return av.NewPacket(
		av.WithPacketData(data),
		av.WithPacketPTS(h.PTS()),
		av.WithPacketConfig(h.IsConfig()),
		av.WithPacketKeyFrame(h.IsKeyFrame()),
	), nil
}

// resolveCodec maps the negotiated tag to a codec usable by this process.
func (d *Demuxer) resolveCodec(tag uint32) (*av.Codec, error) {
	id := av.CodecIDFromTag(tag)
	if id == av.CodecNone {
		return nil, errors.Wrapf(ErrUnknownCodec, "codec id 0x%08x", tag)
	}

	codec, ok := d.codecResolver(id)
	if !ok || codec == nil {
		return nil, errors.Wrapf(ErrCodecNotFound, "codec %s", id)
	}

	return codec, nil
}

// DefaultCodecResolver accepts every codec of the static table.
func DefaultCodecResolver(id av.CodecID) (*av.Codec, bool) {
	c := av.FindCodec(id)
	return c, c != nil
}

// CodecResolverFor accepts only the given codec names; empty means all.
func CodecResolverFor(names []string) (func(av.CodecID) (*av.Codec, bool), error) {
	if len(names) == 0 {
		return DefaultCodecResolver, nil
	}

	enabled := make(map[av.CodecID]*av.Codec, len(names))
	for _, name := range names {
		c := av.FindCodecByName(name)
		if c == nil {
			return nil, errors.Errorf("unsupported codec name: %q", name)
		}
		enabled[c.ID] = c
	}

	return func(id av.CodecID) (*av.Codec, bool) {
		c, ok := enabled[id]
		return c, ok
	}, nil
}
