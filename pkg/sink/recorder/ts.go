package recorder

import (
	"context"
	"io"

	"github.com/asticode/go-astits"
	"github.com/pkg/errors"

	"screenlive/pkg/av"
)

const (
	videoPID      uint16 = 0x100
	videoStreamID uint8  = 0xe0
)

type tsMuxer struct {
	mux *astits.Muxer
}

func (m *tsMuxer) open(w io.Writer, codec *av.Codec) error {
	st := astits.StreamTypeH264Video
	if codec.ID == av.CodecH265 {
		st = astits.StreamTypeH265Video
	}

	m.mux = astits.NewMuxer(context.Background(), w)
	if err := m.mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    st,
	}); err != nil {
		return errors.Wrap(err, "add elementary stream")
	}
	m.mux.SetPCRPID(videoPID)

	return nil
}

func (m *tsMuxer) write(pkt *av.Packet) error {
	oh := &astits.PESOptionalHeader{MarkerBits: 2}

	var af *astits.PacketAdaptationField
	if pkt.HasPTS() {
		clock := &astits.ClockReference{Base: clock90k(pkt.PTS)}
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = clock

		if pkt.KeyFrame {
			af = &astits.PacketAdaptationField{
				RandomAccessIndicator: true,
				HasPCR:                true,
				PCR:                   clock,
			}
		}
	}

	_, err := m.mux.WriteData(&astits.MuxerData{
		PID:             videoPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       videoStreamID,
			},
			Data: pkt.Data,
		},
	})
	return err
}

func (m *tsMuxer) close() error {
	return nil
}

// clock90k converts µs to 90kHz ticks, dividing first so that any 62-bit PTS fits.
func clock90k(pts int64) int64 {
	return pts/100*9 + pts%100*9/100
}
