package av

import "math"

// NoPTS marks a packet without a meaningful presentation time (config packets).
const NoPTS int64 = math.MinInt64

type Packet struct {
	Data []byte

	PTS      int64 // 微秒, config包为NoPTS
	Config   bool  // 编码配置数据(SPS/PPS等), 非可显示帧
	KeyFrame bool
}

func NewPacket(opts ...packetOption) *Packet {
	return (&Packet{PTS: NoPTS}).loadOptions(opts...)
}

func (p *Packet) loadOptions(opts ...packetOption) *Packet {
	for _, opt := range opts {
		opt(p)
	}

	if p.Config {
		p.PTS = NoPTS
	}

	return p
}

func (p *Packet) HasPTS() bool {
	return p.PTS != NoPTS
}

func (p *Packet) Len() int {
	return len(p.Data)
}

type packetOption func(*Packet)

func WithPacketData(data []byte) packetOption {
	return func(p *Packet) {
		p.Data = data // no copy
	}
}

func WithPacketPTS(pts int64) packetOption {
	return func(p *Packet) {
		p.PTS = pts
	}
}

func WithPacketConfig(config bool) packetOption {
	return func(p *Packet) {
		p.Config = config
	}
}

func WithPacketKeyFrame(keyFrame bool) packetOption {
	return func(p *Packet) {
		p.KeyFrame = keyFrame
	}
}
