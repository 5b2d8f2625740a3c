package demuxer

import "screenlive/pkg/av"

// PacketMerger prepends the config packets of a video stream to the next
// media packet: some decoders need the parameter sets physically attached to
// the first access unit they govern.
//
// Consecutive config packets are concatenated in arrival order. Bytes still
// pending when the stream ends never applied to a frame and are dropped.
type PacketMerger struct {
	config []byte // 待合并的config数据, nil表示idle
	merged int64  // 已合并进媒体包的config字节数
}

func NewPacketMerger() *PacketMerger {
	return &PacketMerger{}
}

// Merge consumes pkt. Config packets are buffered and nil is returned; a
// media packet is returned with any pending config bytes prepended to its
// payload, keeping its own timestamp and flags.
func (m *PacketMerger) Merge(pkt *av.Packet) *av.Packet {
	if pkt.Config {
		m.config = append(m.config, pkt.Data...)
		return nil
	}

	if len(m.config) == 0 {
		return pkt
	}

	data := make([]byte, len(m.config)+len(pkt.Data))
	n := copy(data, m.config)
	copy(data[n:], pkt.Data)

	pkt.Data = data
	m.merged += int64(n)
	m.config = nil

	return pkt
}

// Pending returns the number of buffered config bytes.
func (m *PacketMerger) Pending() int {
	return len(m.config)
}

func (m *PacketMerger) Merged() int64 {
	return m.merged
}

// Reset discards pending config bytes.
func (m *PacketMerger) Reset() {
	m.config = nil
}
