package av

import (
	"fmt"
	"strings"
)

type MediaType uint8

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

type CodecID uint32

const (
	CodecNone CodecID = iota
	CodecH264
	CodecH265
	CodecAV1
	CodecOpus
)

func (id CodecID) String() string {
	if c := FindCodec(id); c != nil {
		return c.Name
	}
	return fmt.Sprintf("codec(%d)", uint32(id))
}

// 协商阶段的4字节codec tag, 即codec名的ASCII(大端)
const (
	TagH264 uint32 = 0x68323634 // "h264"
	TagH265 uint32 = 0x68323635 // "h265"
	TagAV1  uint32 = 0x00617631 // "\0av1"
	TagOpus uint32 = 0x6f707573 // "opus"
)

// Codec describes the media codec negotiated at the start of a stream.
type Codec struct {
	ID   CodecID
	Name string
	Type MediaType
	Tag  uint32
}

func (c *Codec) IsVideo() bool {
	return c.Type == MediaTypeVideo
}

func (c *Codec) IsAudio() bool {
	return c.Type == MediaTypeAudio
}

func (c *Codec) String() string {
	return c.Name
}

var codecs = [...]Codec{
	{ID: CodecH264, Name: "h264", Type: MediaTypeVideo, Tag: TagH264},
	{ID: CodecH265, Name: "h265", Type: MediaTypeVideo, Tag: TagH265},
	{ID: CodecAV1, Name: "av1", Type: MediaTypeVideo, Tag: TagAV1},
	{ID: CodecOpus, Name: "opus", Type: MediaTypeAudio, Tag: TagOpus},
}

// CodecIDFromTag maps a wire codec tag to its id, CodecNone if unknown.
func CodecIDFromTag(tag uint32) CodecID {
	for i := range codecs {
		if codecs[i].Tag == tag {
			return codecs[i].ID
		}
	}
	return CodecNone
}

// FindCodec returns the static descriptor for id, nil if there is none.
// The returned value is shared and must not be modified.
func FindCodec(id CodecID) *Codec {
	for i := range codecs {
		if codecs[i].ID == id {
			return &codecs[i]
		}
	}
	return nil
}

func FindCodecByName(name string) *Codec {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range codecs {
		if codecs[i].Name == name {
			return &codecs[i]
		}
	}
	return nil
}

// Codecs lists every known codec in table order.
func Codecs() []*Codec {
	ret := make([]*Codec, 0, len(codecs))
	for i := range codecs {
		ret = append(ret, &codecs[i])
	}
	return ret
}
