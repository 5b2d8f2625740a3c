package av

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecIDFromTag(t *testing.T) {
	cases := []struct {
		tag  uint32
		id   CodecID
		name string
		typ  MediaType
	}{
		{0x68323634, CodecH264, "h264", MediaTypeVideo},
		{0x68323635, CodecH265, "h265", MediaTypeVideo},
		{0x00617631, CodecAV1, "av1", MediaTypeVideo},
		{0x6f707573, CodecOpus, "opus", MediaTypeAudio},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			id := CodecIDFromTag(c.tag)
			require.Equal(t, c.id, id)

			codec := FindCodec(id)
			require.NotNil(t, codec)
			assert.Equal(t, c.name, codec.Name)
			assert.Equal(t, c.typ, codec.Type)
			assert.Equal(t, c.tag, codec.Tag)
			assert.Equal(t, codec, FindCodecByName(c.name))
		})
	}
}

func TestUnknownCodec(t *testing.T) {
	assert.Equal(t, CodecNone, CodecIDFromTag(0x61616161))
	assert.Equal(t, CodecNone, CodecIDFromTag(0))
	assert.Nil(t, FindCodec(CodecNone))
	assert.Nil(t, FindCodecByName("vp9"))
	assert.Equal(t, "codec(0)", CodecNone.String())
}

func TestFindCodecByNameNormalizes(t *testing.T) {
	c := FindCodecByName(" H265 ")
	require.NotNil(t, c)
	assert.Equal(t, CodecH265, c.ID)
	assert.Len(t, Codecs(), 4)
}

func TestNewPacket(t *testing.T) {
	p := NewPacket(
		WithPacketData([]byte{1, 2, 3}),
		WithPacketPTS(42),
		WithPacketKeyFrame(true),
	)
	assert.Equal(t, int64(42), p.PTS)
	assert.True(t, p.HasPTS())
	assert.True(t, p.KeyFrame)
	assert.Equal(t, 3, p.Len())

	cfg := NewPacket(WithPacketData([]byte{1}), WithPacketPTS(42), WithPacketConfig(true))
	assert.Equal(t, NoPTS, cfg.PTS)
	assert.False(t, cfg.HasPTS())
}
