package probe

import (
	"sync"
	"time"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"screenlive/pkg/av"
)

// ErrDecode is returned by Push in strict mode when a packet cannot be
// interpreted as a frame of the negotiated codec.
var ErrDecode = errors.New("decode error")

// Probe is a decoding sink: it inspects every packet of the stream, keeps the
// video geometry up to date and reports malformed frames.
type Probe struct {
	name    string
	logger  *zap.Logger
	strict  bool
	limiter *rate.Limiter

	mu    sync.Mutex
	codec *av.Codec
	stats Stats
}

type Stats struct {
	Codec            string `json:"codec,omitempty"`
	Width            uint32 `json:"width,omitempty"`
	Height           uint32 `json:"height,omitempty"`
	Frames           int64  `json:"frames"`
	KeyFrames        int64  `json:"keyFrames"`
	ConfigPackets    int64  `json:"configPackets"`
	Bytes            int64  `json:"bytes"`
	KeyFrameMismatch int64  `json:"keyFrameMismatch"`
	Errors           int64  `json:"errors"`
}

func New(opts ...probeOption) (*Probe, error) {
	p, err := (&Probe{}).loadOptions(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load options")
	}

	return p, nil
}

func (p *Probe) Name() string {
	return p.name
}

func (p *Probe) Open(codec *av.Codec) error {
	if codec == nil {
		return errProbeCodec
	}

	p.mu.Lock()
	p.codec = codec
	p.stats = Stats{Codec: codec.Name}
	p.mu.Unlock()

	p.logger.Debug("probe opened", zap.String("codec", codec.Name))
	return nil
}

func (p *Probe) Push(pkt *av.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.codec == nil {
		return errProbeNotOpen
	}

	p.stats.Bytes += int64(pkt.Len())
	if pkt.Config {
		p.stats.ConfigPackets++
		return nil
	}

	p.stats.Frames++
	if pkt.KeyFrame {
		p.stats.KeyFrames++
	}

	switch p.codec.ID {
	case av.CodecH264:
		return p.inspectAVC(pkt)
	case av.CodecH265:
		return p.inspectHEVC(pkt)
	default:
		return nil
	}
}

func (p *Probe) Close() {
	p.mu.Lock()
	s := p.stats
	p.mu.Unlock()

	p.logger.Info("probe closed",
		zap.String("codec", s.Codec),
		zap.Int64("frames", s.Frames),
		zap.Int64("keyFrames", s.KeyFrames),
		zap.Uint32("width", s.Width),
		zap.Uint32("height", s.Height),
		zap.Int64("errors", s.Errors))
}

func (p *Probe) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

func (p *Probe) inspectAVC(pkt *av.Packet) error {
	nalus := avc.ExtractNalusFromByteStream(pkt.Data)
	if len(nalus) == 0 {
		return p.problem(pkt, "no nal units in packet", nil)
	}

	var idr bool
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}

		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			sps, err := avc.ParseSPSNALUnit(nalu, true)
			if err != nil {
				return p.problem(pkt, "parse sps", err)
			}
			p.setSize(uint32(sps.Width), uint32(sps.Height))
		case avc.NALU_IDR:
			idr = true
		}
	}

	return p.checkKeyFrame(pkt, idr)
}

func (p *Probe) inspectHEVC(pkt *av.Packet) error {
	nalus := avc.ExtractNalusFromByteStream(pkt.Data)
	if len(nalus) == 0 {
		return p.problem(pkt, "no nal units in packet", nil)
	}

	var idr bool
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}

		switch hevc.GetNaluType(nalu[0]) {
		case hevc.NALU_SPS:
			sps, err := hevc.ParseSPSNALUnit(nalu)
			if err != nil {
				return p.problem(pkt, "parse sps", err)
			}
			w, h := sps.ImageSize()
			p.setSize(uint32(w), uint32(h))
		case hevc.NALU_IDR_W_RADL, hevc.NALU_IDR_N_LP:
			idr = true
		}
	}

	return p.checkKeyFrame(pkt, idr)
}

func (p *Probe) setSize(w, h uint32) {
	if w == p.stats.Width && h == p.stats.Height {
		return
	}

	p.logger.Info("video size changed",
		zap.Uint32("width", w),
		zap.Uint32("height", h))
	p.stats.Width, p.stats.Height = w, h
}

// 标记与实际内容不一致只记录, 不视为解码错误
func (p *Probe) checkKeyFrame(pkt *av.Packet, idr bool) error {
	if pkt.KeyFrame == idr {
		return nil
	}

	p.stats.KeyFrameMismatch++
	if p.limiter.Allow() {
		p.logger.Warn("key frame flag mismatch",
			zap.Bool("flag", pkt.KeyFrame),
			zap.Bool("idr", idr),
			zap.Int64("pts", pkt.PTS))
	}
	return nil
}

func (p *Probe) problem(pkt *av.Packet, msg string, cause error) error {
	p.stats.Errors++

	err := errors.Wrap(ErrDecode, msg)
	if cause != nil {
		err = errors.Wrapf(err, "%v", cause)
	}

	if p.strict {
		return err
	}

	if p.limiter.Allow() {
		p.logger.Warn("could not decode packet",
			zap.Int64("pts", pkt.PTS),
			zap.Int("size", pkt.Len()),
			zap.Error(err))
	}
	return nil
}

func (p *Probe) loadOptions(opts ...probeOption) (*Probe, error) {
	for _, opt := range opts {
		opt(p)
	}

	if p.name == "" {
		p.name = "probe"
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("sink", p.name))

	if p.limiter == nil {
		p.limiter = rate.NewLimiter(rate.Every(time.Second), 5)
	}

	return p, nil
}

type probeOption func(*Probe)

func WithProbeName(name string) probeOption {
	return func(p *Probe) {
		p.name = name
	}
}

func WithProbeLogger(logger *zap.Logger) probeOption {
	return func(p *Probe) {
		p.logger = logger
	}
}

// WithProbeStrict makes undecodable packets fail Push.
func WithProbeStrict(strict bool) probeOption {
	return func(p *Probe) {
		p.strict = strict
	}
}

// WithProbeLogLimit allows one warning per interval, with the given burst.
func WithProbeLogLimit(interval time.Duration, burst int) probeOption {
	return func(p *Probe) {
		p.limiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

var (
	errProbeCodec   = errors.New("probe codec required")
	errProbeNotOpen = errors.New("probe not opened")
)
