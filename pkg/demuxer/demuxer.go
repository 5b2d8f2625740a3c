package demuxer

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"screenlive/pkg/av"
	"screenlive/pkg/connection"
	"screenlive/pkg/protocol/frame"
)

// OnEndedFunc is called exactly once per session, after every opened sink
// has been closed. eos is true when the device closed the stream cleanly.
type OnEndedFunc func(d *Demuxer, eos bool)

// Demuxer reads one device stream (codec tag then framed packets) on its own
// goroutine and pushes every packet to the registered sinks.
//
// The only way to stop a running Demuxer is to close its connection: the
// blocked read returns and the session ends as end-of-stream.
type Demuxer struct {
	// 以下计数器均为atomic访问, 放在结构体开头保持64位对齐
	packetsRead   int64
	packetsPushed int64
	configMerged  int64

	name   string
	logger *zap.Logger

	rwc           io.ReadCloser
	readBufSize   int
	maxPacketSize uint32
	codecResolver func(av.CodecID) (*av.Codec, bool)
	onEnded       OnEndedFunc

	conn *connection.Connection
	hdr  [frame.HeaderSize]byte

	mu      sync.Mutex
	sinks   []PacketSink
	started bool

	done chan struct{}
	eos  bool

	codec atomic.Value // *av.Codec
}

func New(opts ...demuxerOption) (*Demuxer, error) {
	d, err := (&Demuxer{}).loadOptions(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load options")
	}

	return d, nil
}

func (d *Demuxer) Name() string {
	return d.name
}

// AddSink registers a sink. Registration order is the open/push order; sinks
// are closed in reverse order. Sinks cannot be added once started.
func (d *Demuxer) AddSink(sink PacketSink) error {
	if sink == nil {
		return errDemuxerSink
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errDemuxerStarted
	}

	d.sinks = append(d.sinks, sink)
	return nil
}

// Start spawns the demuxer goroutine.
func (d *Demuxer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errDemuxerStarted
	}
	d.started = true

	d.logger.Debug("starting demuxer", zap.Int("sinks", len(d.sinks)))
	go d.run()

	return nil
}

// Join waits for the session to end and returns its eos flag.
func (d *Demuxer) Join() bool {
	<-d.done
	return d.eos
}

// Done is closed once the session ended and the completion callback returned.
func (d *Demuxer) Done() <-chan struct{} {
	return d.done
}

// Close closes the underlying connection, which ends a running session.
func (d *Demuxer) Close() error {
	return d.conn.Close()
}

func (d *Demuxer) run() {
	defer close(d.done)

	eos := d.demux()
	d.eos = eos

	if d.onEnded != nil {
		d.onEnded(d, eos)
	}
}

// demux drives NegotiatingCodec -> SinksOpen -> Reading. Returning from it
// tears the merger down first, then closes the sinks (deferred, LIFO).
func (d *Demuxer) demux() bool {
	tag, err := d.recvCodecTag()
	if err != nil {
		d.logger.Debug("stream ended before codec negotiation")
		return true
	}

	codec, err := d.resolveCodec(tag)
	if err != nil {
		d.logger.Error("could not negotiate codec", zap.Error(err))
		return false
	}
	d.codec.Store(codec)
	d.logger = d.logger.With(zap.String("codec", codec.Name))

	if err := d.openSinks(codec); err != nil {
		d.logger.Error("could not open sinks", zap.Error(err))
		return false
	}
	defer d.closeSinks()

	// config包只在视频流中需要与下一个媒体包合并
	var merger *PacketMerger
	if codec.IsVideo() {
		merger = NewPacketMerger()
		defer func() {
			if n := merger.Pending(); n > 0 {
				d.logger.Debug("discard unmerged config", zap.Int("bytes", n))
			}
			merger.Reset()
		}()
	}

	for {
		pkt, err := d.recvPacket()
		if err != nil {
			if isEndOfStream(err) {
				d.logger.Debug("end of frames")
				return true
			}

			switch errors.Cause(err) {
			case ErrPacketTooLarge:
				d.logger.Error("out of memory", zap.Error(err))
			default:
				d.logger.Error("protocol violation", zap.Error(err))
			}
			return false
		}
		atomic.AddInt64(&d.packetsRead, 1)

		if merger != nil {
			before := merger.Merged()
			if pkt = merger.Merge(pkt); pkt == nil {
				continue
			}
			atomic.AddInt64(&d.configMerged, merger.Merged()-before)
		}

		if err := d.pushPacket(pkt); err != nil {
			d.logger.Error("could not process packet", zap.Error(err))
			return false
		}
		atomic.AddInt64(&d.packetsPushed, 1)
	}
}

type Stats struct {
	Codec         string `json:"codec,omitempty"`
	BytesRead     int64  `json:"bytesRead"`
	PacketsRead   int64  `json:"packetsRead"`
	PacketsPushed int64  `json:"packetsPushed"`
	ConfigMerged  int64  `json:"configMerged"`
}

// Stats is safe to call from any goroutine.
func (d *Demuxer) Stats() Stats {
	s := Stats{
		BytesRead:     d.conn.InBytes(),
		PacketsRead:   atomic.LoadInt64(&d.packetsRead),
		PacketsPushed: atomic.LoadInt64(&d.packetsPushed),
		ConfigMerged:  atomic.LoadInt64(&d.configMerged),
	}
	if c, ok := d.codec.Load().(*av.Codec); ok {
		s.Codec = c.Name
	}
	return s
}

func (d *Demuxer) loadOptions(opts ...demuxerOption) (*Demuxer, error) {
	for _, opt := range opts {
		opt(d)
	}

	if d.name == "" {
		return nil, errDemuxerName
	}

	if d.rwc == nil {
		return nil, errDemuxerConn
	}

	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("demuxer", d.name))

	if d.codecResolver == nil {
		d.codecResolver = DefaultCodecResolver
	}

	d.conn = &connection.Connection{
		Rwc:         d.rwc,
		Logger:      d.logger,
		ReadBufSize: d.readBufSize,
	}
	if err := d.conn.Init(); err != nil {
		return nil, errors.Wrap(err, "init connection")
	}

	d.done = make(chan struct{})

	return d, nil
}

type demuxerOption func(*Demuxer)

func WithDemuxerName(name string) demuxerOption {
	return func(d *Demuxer) {
		d.name = name
	}
}

func WithDemuxerConn(rwc io.ReadCloser) demuxerOption {
	return func(d *Demuxer) {
		d.rwc = rwc
	}
}

func WithDemuxerLogger(logger *zap.Logger) demuxerOption {
	return func(d *Demuxer) {
		d.logger = logger
	}
}

func WithDemuxerOnEnded(fn OnEndedFunc) demuxerOption {
	return func(d *Demuxer) {
		d.onEnded = fn
	}
}

func WithDemuxerReadBufSize(size int) demuxerOption {
	return func(d *Demuxer) {
		d.readBufSize = size
	}
}

// WithDemuxerMaxPacketSize bounds payload allocations, 0 means unbounded.
func WithDemuxerMaxPacketSize(size uint32) demuxerOption {
	return func(d *Demuxer) {
		d.maxPacketSize = size
	}
}

func WithDemuxerCodecResolver(fn func(av.CodecID) (*av.Codec, bool)) demuxerOption {
	return func(d *Demuxer) {
		d.codecResolver = fn
	}
}

var (
	errDemuxerName    = errors.New("demuxer name required")
	errDemuxerConn    = errors.New("demuxer conn required")
	errDemuxerSink    = errors.New("demuxer sink required")
	errDemuxerStarted = errors.New("demuxer already started")
)
