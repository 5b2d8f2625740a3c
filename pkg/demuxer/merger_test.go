package demuxer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenlive/pkg/av"
)

func configPacket(data ...byte) *av.Packet {
	return av.NewPacket(av.WithPacketData(data), av.WithPacketConfig(true))
}

func mediaPacket(pts int64, key bool, data ...byte) *av.Packet {
	return av.NewPacket(av.WithPacketData(data), av.WithPacketPTS(pts), av.WithPacketKeyFrame(key))
}

func TestMergerPassThrough(t *testing.T) {
	m := NewPacketMerger()

	in := mediaPacket(100, false, 1, 2, 3)
	out := m.Merge(in)
	require.NotNil(t, out)
	assert.Equal(t, []byte{1, 2, 3}, out.Data)
	assert.Equal(t, int64(100), out.PTS)
	assert.Equal(t, 0, m.Pending())
}

func TestMergerConcatenatesConfigs(t *testing.T) {
	m := NewPacketMerger()

	assert.Nil(t, m.Merge(configPacket(0xc1)))
	assert.Equal(t, 1, m.Pending())
	assert.Nil(t, m.Merge(configPacket(0xc2, 0xc2)))
	assert.Equal(t, 3, m.Pending())

	out := m.Merge(mediaPacket(4242, true, 0xee))
	require.NotNil(t, out)
	assert.Equal(t, []byte{0xc1, 0xc2, 0xc2, 0xee}, out.Data)
	assert.Equal(t, int64(4242), out.PTS)
	assert.True(t, out.KeyFrame)
	assert.False(t, out.Config)
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, int64(3), m.Merged())

	// 合并后回到idle
	next := m.Merge(mediaPacket(4243, false, 0xef))
	assert.Equal(t, []byte{0xef}, next.Data)
}

func TestMergerDoesNotAliasConfig(t *testing.T) {
	m := NewPacketMerger()

	cfg := configPacket(1, 2)
	m.Merge(cfg)
	out := m.Merge(mediaPacket(1, false, 3))
	out.Data[0] = 9

	assert.Equal(t, []byte{1, 2}, cfg.Data)
}

func TestMergerResetDropsPending(t *testing.T) {
	m := NewPacketMerger()

	m.Merge(configPacket(1, 2, 3))
	m.Reset()
	assert.Equal(t, 0, m.Pending())

	out := m.Merge(mediaPacket(5, false, 4))
	assert.Equal(t, []byte{4}, out.Data)
}
