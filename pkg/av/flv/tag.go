package flv

import (
	"github.com/pkg/errors"

	"screenlive/pkg/common"
)

const (
	TagAudio      uint8 = 0x08
	TagVideo      uint8 = 0x09
	TagScriptData uint8 = 0x12

	TagHeaderSize = 11
)

const (
	FrameKey   uint8 = 1
	FrameInter uint8 = 2

	CodecAVC uint8 = 7

	AVCSequenceHeader uint8 = 0
	AVCNALU           uint8 = 1
	AVCEndOfSequence  uint8 = 2
)

type flvTag struct {
	TagType   uint8  // tag类型 （1 byte）
	DataSize  uint32 // 数据长度 (3 bytes)
	Timestamp uint32 // 时间戳 （3 bytes + 1 byte扩展）
	StreamID  uint32 // 流ID (3 bytes), 总是0
}

type mediaTag struct {
	SoundFormat   uint8 // 音频编码格式 如：10（AAC）
	SoundRate     uint8 // 音频采样率 (0: 5.5kHZ  1: 11kHZ  2:22kHZ  3:44kHZ)
	SoundSize     uint8 // 采样大小
	SoundType     uint8 // 声道类型 mono(单声道)  stereo(立体声)
	AACPacketType uint8 // 0: sequence header   1: aac raw

	// 帧类型  1: keyframe  2: inter frame 3: disposable inter frame(h.263 only) 4: generated keyframe(server) 5: video info/command frame
	FrameType     uint8
	CodecID       uint8 // 编码ID  如：7（AVC/H.264）
	AvcPacketType uint8 // AVC编码数据类型  0: sequence header  1: NALU  2: end of sequence

	CompositionTime int32 // 合成时间
}

type Tag struct {
	flvTag
	mediaTag
}

func NewVideoTag(frameType, avcPacketType uint8, timestamp uint32) *Tag {
	t := &Tag{}
	t.flvTag.TagType = TagVideo
	t.flvTag.Timestamp = timestamp
	t.mediaTag.FrameType = frameType
	t.mediaTag.CodecID = CodecAVC
	t.mediaTag.AvcPacketType = avcPacketType
	return t
}

func (t *Tag) Type() uint8 {
	return t.flvTag.TagType
}

func (t *Tag) Timestamp() uint32 {
	return t.flvTag.Timestamp
}

func (t *Tag) DataSize() uint32 {
	return t.flvTag.DataSize
}

func (t *Tag) SoundFormat() uint8 {
	return t.mediaTag.SoundFormat
}

func (t *Tag) AACPacketType() uint8 {
	return t.mediaTag.AACPacketType
}

func (t *Tag) IsKeyFrame() bool {
	return t.mediaTag.FrameType == FrameKey
}

func (t *Tag) IsSequenceHeader() bool {
	return t.IsKeyFrame() && t.mediaTag.AvcPacketType == AVCSequenceHeader
}

func (t *Tag) CodecID() uint8 {
	return t.mediaTag.CodecID
}

func (t *Tag) AVCPacketType() uint8 {
	return t.mediaTag.AvcPacketType
}

func (t *Tag) CompositionTime() int32 {
	return t.mediaTag.CompositionTime
}

func (t *Tag) DecodeTagHeader(b []byte) (int, error) {
	if len(b) < TagHeaderSize {
		return 0, errors.Errorf("invalid tag header len=%d", len(b))
	}

	t.flvTag.TagType = b[0]
	t.flvTag.DataSize = common.BytesAsUint32(b[1:4], true)
	t.flvTag.Timestamp = common.BytesAsUint32(b[4:7], true) | uint32(b[7])<<24
	t.flvTag.StreamID = common.BytesAsUint32(b[8:11], true)

	return TagHeaderSize, nil
}

// EncodeVideoHeader writes the 5-byte AVC video data header.
func (t *Tag) EncodeVideoHeader(p []byte) (int, error) {
	if len(p) < 5 {
		return 0, errors.Errorf("invalid video header buffer len=%d", len(p))
	}

	p[0] = t.mediaTag.FrameType<<4 | t.mediaTag.CodecID&0xf
	p[1] = t.mediaTag.AvcPacketType
	common.UintAsBytes(uint32(t.mediaTag.CompositionTime), p[2:5], true)

	return 5, nil
}

func (t *Tag) DecodeMediaTagHeader(b []byte) (n int, err error) {
	switch t.flvTag.TagType {
	case TagVideo:
		return t.decodeVideoHeader(b)
	case TagAudio:
		return t.decodeAudioHeader(b)
	default:
		return 0, nil
	}
}

func (t *Tag) decodeVideoHeader(b []byte) (n int, err error) {
	if len(b) < 5 {
		err = errors.Errorf("invalid Video Data len=%d", len(b))
		return
	}

	flags := b[0]
	t.mediaTag.FrameType = flags >> 4
	t.mediaTag.CodecID = flags & 0xf

	n = 1

	switch t.mediaTag.CodecID {
	case CodecAVC:
		switch t.mediaTag.FrameType {
		case FrameKey, FrameInter:
			t.mediaTag.AvcPacketType = b[1]
			t.mediaTag.CompositionTime = 0
			for i := 2; i < 5; i++ {
				t.mediaTag.CompositionTime = t.mediaTag.CompositionTime<<8 + int32(b[i])
			}
			n += 4
		}
	}

	return
}

func (t *Tag) decodeAudioHeader(b []byte) (n int, err error) {
	if len(b) < 1 {
		err = errors.Errorf("invalid audio data len=%d", len(b))
		return
	}

	flags := b[0]
	t.mediaTag.SoundFormat = flags >> 4
	t.mediaTag.SoundRate = (flags >> 2) & 0x3
	t.mediaTag.SoundSize = (flags >> 1) & 0x1
	t.mediaTag.SoundType = flags & 0x1

	n = 1
	switch t.mediaTag.SoundFormat {
	case 10: // AAC
		if len(b) < 2 {
			err = errors.Errorf("invalid aac data len=%d", len(b))
			return
		}
		t.mediaTag.AACPacketType = b[1]
		n++
	}

	return
}
