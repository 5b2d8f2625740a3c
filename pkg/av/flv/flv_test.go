package flv

import (
	"bytes"
	"io"
	"testing"

	"github.com/gwuhaolin/livego/protocol/amf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterHeader(t *testing.T) {
	var b bytes.Buffer
	w, err := NewWriter(&b, true, false)
	require.NoError(t, err)

	assert.Equal(t, []byte{'F', 'L', 'V', 1, flagVideo, 0, 0, 0, 9, 0, 0, 0, 0}, b.Bytes())
	assert.Equal(t, int64(13), w.Written())
}

func TestWriteReadVideoTag(t *testing.T) {
	var b bytes.Buffer
	w, err := NewWriter(&b, true, false)
	require.NoError(t, err)

	tag := NewVideoTag(FrameKey, AVCNALU, 0x01020304)
	hdr := make([]byte, 5)
	_, err = tag.EncodeVideoHeader(hdr)
	require.NoError(t, err)
	require.NoError(t, w.WriteTag(TagVideo, tag.Timestamp(), hdr, []byte{0, 0, 0, 1, 0x65}))

	r, err := NewReader(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	assert.True(t, r.HasVideo)
	assert.False(t, r.HasAudio)

	got, body, err := r.ReadTag()
	require.NoError(t, err)
	assert.Equal(t, TagVideo, got.Type())
	assert.Equal(t, uint32(0x01020304), got.Timestamp())
	assert.Equal(t, uint32(10), got.DataSize())
	assert.True(t, got.IsKeyFrame())
	assert.False(t, got.IsSequenceHeader())
	assert.Equal(t, CodecAVC, got.CodecID())
	assert.Equal(t, AVCNALU, got.AVCPacketType())
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65}, body)

	_, _, err = r.ReadTag()
	assert.Equal(t, io.EOF, err)
}

func TestPreviousTagSize(t *testing.T) {
	var b bytes.Buffer
	w, err := NewWriter(&b, false, true)
	require.NoError(t, err)
	require.NoError(t, w.WriteTag(TagAudio, 20, []byte{0xaf, 0x01, 0x11}))

	out := b.Bytes()
	assert.Equal(t, []byte{0, 0, 0, TagHeaderSize + 3}, out[len(out)-4:])
	assert.Equal(t, int64(len(out)), w.Written())
}

func TestWriteMetaData(t *testing.T) {
	var b bytes.Buffer
	w, err := NewWriter(&b, true, false)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetaData(amf.Object{"width": float64(320), "height": float64(240)}))

	r, err := NewReader(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)

	tag, body, err := r.ReadTag()
	require.NoError(t, err)
	assert.Equal(t, TagScriptData, tag.Type())

	vs, err := (&amf.Decoder{}).DecodeBatch(bytes.NewReader(body), amf.AMF0)
	if err != io.EOF {
		require.NoError(t, err)
	}
	require.Len(t, vs, 2)
	assert.Equal(t, "onMetaData", vs[0])

	meta, ok := vs[1].(amf.Object)
	require.True(t, ok)
	assert.Equal(t, float64(320), meta["width"])
}

func TestReaderRejectsSignature(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, 13)))
	assert.Equal(t, errInvalidSignature, err)
}

func TestDecodeAudioHeader(t *testing.T) {
	tag := &Tag{}
	tag.flvTag.TagType = TagAudio

	n, err := tag.DecodeMediaTagHeader([]byte{0xaf, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint8(10), tag.SoundFormat())
	assert.Equal(t, uint8(0), tag.AACPacketType())
}
