package recorder

import (
	"bytes"
	"io"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/gwuhaolin/livego/protocol/amf"
	"github.com/gwuhaolin/livego/utils/pio"
	"github.com/pkg/errors"

	"screenlive/pkg/av"
	"screenlive/pkg/av/flv"
)

// flvMuxer repackages Annex-B H.264 into AVC FLV tags. The sequence header is
// rebuilt from in-band SPS/PPS and written again whenever they change.
type flvMuxer struct {
	w   *flv.Writer
	hdr [5]byte

	sps, pps  []byte
	seqHeader bool

	base    int64
	hasBase bool
	last    uint32
}

func (m *flvMuxer) open(w io.Writer, codec *av.Codec) error {
	fw, err := flv.NewWriter(w, true, false)
	if err != nil {
		return err
	}
	m.w = fw

	return m.w.WriteMetaData(amf.Object{
		"videocodecid": float64(flv.CodecAVC),
		"encoder":      "screenlive",
	})
}

func (m *flvMuxer) write(pkt *av.Packet) error {
	var (
		changed bool
		body    []byte
	)

	for _, nalu := range avc.ExtractNalusFromByteStream(pkt.Data) {
		if len(nalu) == 0 {
			continue
		}

		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			if !bytes.Equal(nalu, m.sps) {
				m.sps = append([]byte(nil), nalu...)
				changed = true
			}
		case avc.NALU_PPS:
			if !bytes.Equal(nalu, m.pps) {
				m.pps = append([]byte(nil), nalu...)
				changed = true
			}
		default:
			// AVCC: 4字节长度前缀
			var size [4]byte
			pio.PutU32BE(size[:], uint32(len(nalu)))
			body = append(body, size[:]...)
			body = append(body, nalu...)
		}
	}

	ts := m.timestamp(pkt)

	if changed && m.sps != nil && m.pps != nil {
		if err := m.writeSequenceHeader(ts); err != nil {
			return err
		}
	}

	// 没有序列头的帧无法解码
	if !m.seqHeader || len(body) == 0 {
		return nil
	}

	frameType := flv.FrameInter
	if pkt.KeyFrame {
		frameType = flv.FrameKey
	}

	tag := flv.NewVideoTag(frameType, flv.AVCNALU, ts)
	if _, err := tag.EncodeVideoHeader(m.hdr[:]); err != nil {
		return err
	}

	return m.w.WriteTag(flv.TagVideo, ts, m.hdr[:], body)
}

func (m *flvMuxer) writeSequenceHeader(ts uint32) error {
	rec, err := avc.CreateAVCDecConfRec([][]byte{m.sps}, [][]byte{m.pps}, true)
	if err != nil {
		return errors.Wrap(err, "create avc decoder config")
	}

	var b bytes.Buffer
	if err := rec.Encode(&b); err != nil {
		return errors.Wrap(err, "encode avc decoder config")
	}

	tag := flv.NewVideoTag(flv.FrameKey, flv.AVCSequenceHeader, ts)
	if _, err := tag.EncodeVideoHeader(m.hdr[:]); err != nil {
		return err
	}

	if err := m.w.WriteTag(flv.TagVideo, ts, m.hdr[:], b.Bytes()); err != nil {
		return err
	}
	m.seqHeader = true

	return nil
}

// timestamp converts the packet PTS to milliseconds relative to the first packet.
func (m *flvMuxer) timestamp(pkt *av.Packet) uint32 {
	if !pkt.HasPTS() {
		return m.last
	}

	if !m.hasBase {
		m.base, m.hasBase = pkt.PTS, true
	}

	if d := pkt.PTS - m.base; d > 0 {
		m.last = uint32(d / 1000)
	}
	return m.last
}

func (m *flvMuxer) close() error {
	if !m.seqHeader {
		return nil
	}

	tag := flv.NewVideoTag(flv.FrameKey, flv.AVCEndOfSequence, m.last)
	if _, err := tag.EncodeVideoHeader(m.hdr[:]); err != nil {
		return err
	}

	return m.w.WriteTag(flv.TagVideo, m.last, m.hdr[:])
}
