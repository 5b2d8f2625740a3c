package demuxer

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"screenlive/pkg/av"
	"screenlive/pkg/protocol/frame"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeSink struct {
	name string
	log  *eventLog

	openErr    error
	failPushAt int // 第n次push失败, 0表示不失败

	codec   *av.Codec
	packets []av.Packet
}

func (s *fakeSink) Name() string {
	return s.name
}

func (s *fakeSink) Open(codec *av.Codec) error {
	s.log.add("open %s", s.name)
	if s.openErr != nil {
		return s.openErr
	}
	s.codec = codec
	return nil
}

func (s *fakeSink) Push(pkt *av.Packet) error {
	s.log.add("push %s %x", s.name, pkt.Data)
	if s.failPushAt > 0 && len(s.packets)+1 == s.failPushAt {
		return errors.New("sink failure")
	}

	cp := *pkt
	cp.Data = append([]byte(nil), pkt.Data...)
	s.packets = append(s.packets, cp)
	return nil
}

func (s *fakeSink) Close() {
	s.log.add("close %s", s.name)
}

type stream struct {
	bytes.Buffer
	w *frame.Writer
}

func newStream(t *testing.T, tag uint32) *stream {
	s := &stream{}
	s.w = frame.NewWriter(&s.Buffer)
	require.NoError(t, s.w.WriteCodecTag(tag))
	return s
}

func (s *stream) packet(t *testing.T, pkt *av.Packet) *stream {
	require.NoError(t, s.w.WritePacket(pkt))
	return s
}

type result struct {
	eos   bool
	calls int
	log   *eventLog
}

func runDemuxer(t *testing.T, data []byte, logger *zap.Logger, sinks ...*fakeSink) (*Demuxer, *result) {
	res := &result{log: &eventLog{}}
	for _, s := range sinks {
		if s.log == nil {
			s.log = res.log
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	d, err := New(
		WithDemuxerName("video"),
		WithDemuxerConn(ioutil.NopCloser(bytes.NewReader(data))),
		WithDemuxerLogger(logger),
		WithDemuxerMaxPacketSize(1024),
		WithDemuxerOnEnded(func(_ *Demuxer, eos bool) {
			res.calls++
			res.eos = eos
			res.log.add("ended %v", eos)
		}),
	)
	require.NoError(t, err)

	for _, s := range sinks {
		require.NoError(t, d.AddSink(s))
	}

	require.NoError(t, d.Start())
	eos := d.Join()
	assert.Equal(t, res.eos, eos)

	return d, res
}

func TestNewRequiresNameAndConn(t *testing.T) {
	_, err := New(WithDemuxerConn(ioutil.NopCloser(&bytes.Buffer{})))
	assert.Equal(t, errDemuxerName, errors.Cause(err))

	_, err = New(WithDemuxerName("video"))
	assert.Equal(t, errDemuxerConn, errors.Cause(err))
}

func TestEOSBeforeCodecTag(t *testing.T) {
	a := &fakeSink{name: "a"}
	_, res := runDemuxer(t, nil, nil, a)

	assert.True(t, res.eos)
	assert.Equal(t, 1, res.calls)
	assert.Equal(t, []string{"ended true"}, res.log.list())
}

func TestShortCodecTagIsEOS(t *testing.T) {
	_, res := runDemuxer(t, []byte("h2"), nil, &fakeSink{name: "a"})
	assert.True(t, res.eos)
	assert.Equal(t, []string{"ended true"}, res.log.list())
}

func TestUnknownCodecTag(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := &fakeSink{name: "a"}
	_, res := runDemuxer(t, []byte("vp90"), zap.New(core), a)

	assert.False(t, res.eos)
	assert.Equal(t, 1, res.calls)
	assert.Equal(t, []string{"ended false"}, res.log.list())
	assert.Equal(t, 1, logs.FilterMessage("could not negotiate codec").Len())
}

func TestCodecNotAvailable(t *testing.T) {
	resolver, err := CodecResolverFor([]string{"h264"})
	require.NoError(t, err)

	var ended []bool
	d, err := New(
		WithDemuxerName("audio"),
		WithDemuxerConn(ioutil.NopCloser(bytes.NewReader([]byte("opus")))),
		WithDemuxerCodecResolver(resolver),
		WithDemuxerOnEnded(func(_ *Demuxer, eos bool) { ended = append(ended, eos) }),
	)
	require.NoError(t, err)
	a := &fakeSink{name: "a", log: &eventLog{}}
	require.NoError(t, d.AddSink(a))
	require.NoError(t, d.Start())

	assert.False(t, d.Join())
	assert.Equal(t, []bool{false}, ended)
	assert.Empty(t, a.log.list())
}

func TestCodecResolverForRejectsUnknownName(t *testing.T) {
	_, err := CodecResolverFor([]string{"h264", "vp8"})
	assert.Error(t, err)
}

func TestEOSMidHeader(t *testing.T) {
	s := newStream(t, av.TagH264)
	s.Write([]byte{0, 0, 0, 0, 0})

	a := &fakeSink{name: "a"}
	_, res := runDemuxer(t, s.Bytes(), nil, a)

	assert.True(t, res.eos)
	assert.Equal(t, []string{"open a", "close a", "ended true"}, res.log.list())
	assert.Equal(t, av.CodecH264, a.codec.ID)
}

func TestEOSMidPayloadDiscardsPacket(t *testing.T) {
	s := newStream(t, av.TagH264)
	s.packet(t, mediaPacket(1, true, 0xaa))

	h := frame.Header{PTSFlags: frame.PTSFlags(2, false, false), Length: 10}
	hdr := make([]byte, frame.HeaderSize)
	_, _ = h.Encode(hdr)
	s.Write(hdr)
	s.Write([]byte{1, 2, 3})

	a := &fakeSink{name: "a"}
	_, res := runDemuxer(t, s.Bytes(), nil, a)

	assert.True(t, res.eos)
	require.Len(t, a.packets, 1)
	assert.Equal(t, []byte{0xaa}, a.packets[0].Data)
}

func TestVideoConfigMerged(t *testing.T) {
	s := newStream(t, av.TagH264)
	s.packet(t, configPacket(0xc1))
	s.packet(t, configPacket(0xc2))
	s.packet(t, mediaPacket(1000, true, 0x4d))
	s.packet(t, mediaPacket(2000, false, 0x4e))
	s.packet(t, configPacket(0xc3)) // 流结束时未合并的config

	a := &fakeSink{name: "a"}
	d, res := runDemuxer(t, s.Bytes(), nil, a)

	assert.True(t, res.eos)
	require.Len(t, a.packets, 2)

	assert.Equal(t, []byte{0xc1, 0xc2, 0x4d}, a.packets[0].Data)
	assert.Equal(t, int64(1000), a.packets[0].PTS)
	assert.True(t, a.packets[0].KeyFrame)
	assert.False(t, a.packets[0].Config)

	assert.Equal(t, []byte{0x4e}, a.packets[1].Data)
	assert.Equal(t, int64(2000), a.packets[1].PTS)

	stats := d.Stats()
	assert.Equal(t, "h264", stats.Codec)
	assert.Equal(t, int64(5), stats.PacketsRead)
	assert.Equal(t, int64(2), stats.PacketsPushed)
	assert.Equal(t, int64(2), stats.ConfigMerged)
	assert.Equal(t, int64(s.Len()), stats.BytesRead)
}

func TestAudioConfigNotMerged(t *testing.T) {
	s := newStream(t, av.TagOpus)
	s.packet(t, configPacket(0x0f))
	s.packet(t, mediaPacket(20000, false, 0x01))

	a := &fakeSink{name: "a"}
	_, res := runDemuxer(t, s.Bytes(), nil, a)

	assert.True(t, res.eos)
	require.Len(t, a.packets, 2)
	assert.True(t, a.packets[0].Config)
	assert.Equal(t, av.NoPTS, a.packets[0].PTS)
	assert.Equal(t, []byte{0x0f}, a.packets[0].Data)
	assert.Equal(t, []byte{0x01}, a.packets[1].Data)
	assert.Equal(t, av.CodecOpus, a.codec.ID)
}

func TestOpenFailureClosesOpenedSinks(t *testing.T) {
	s := newStream(t, av.TagH265)
	s.packet(t, mediaPacket(1, true, 1))

	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", openErr: errors.New("no decoder context")}
	c := &fakeSink{name: "c"}
	_, res := runDemuxer(t, s.Bytes(), nil, a, b, c)

	assert.False(t, res.eos)
	assert.Equal(t, []string{"open a", "open b", "close a", "ended false"}, res.log.list())
	assert.Empty(t, a.packets)
	assert.Empty(t, b.packets)
	assert.Empty(t, c.packets)
}

func TestFanOutOrderAndPushFailure(t *testing.T) {
	s := newStream(t, av.TagAV1)
	s.packet(t, mediaPacket(1, true, 0x01))
	s.packet(t, mediaPacket(2, false, 0x02))
	s.packet(t, mediaPacket(3, false, 0x03))

	core, logs := observer.New(zapcore.DebugLevel)
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", failPushAt: 2}
	c := &fakeSink{name: "c"}
	_, res := runDemuxer(t, s.Bytes(), zap.New(core), a, b, c)

	assert.False(t, res.eos)
	assert.Equal(t, []string{
		"open a", "open b", "open c",
		"push a 01", "push b 01", "push c 01",
		"push a 02", "push b 02",
		"close c", "close b", "close a",
		"ended false",
	}, res.log.list())
	assert.Len(t, a.packets, 2)
	assert.Len(t, b.packets, 1)
	assert.Len(t, c.packets, 1)

	entries := logs.FilterMessage("could not process packet").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "push to sink b")
}

func TestZeroLengthPacketRejected(t *testing.T) {
	s := newStream(t, av.TagH264)
	h := frame.Header{PTSFlags: frame.PTSFlags(1, false, true), Length: 0}
	hdr := make([]byte, frame.HeaderSize)
	_, _ = h.Encode(hdr)
	s.Write(hdr)

	a := &fakeSink{name: "a"}
	_, res := runDemuxer(t, s.Bytes(), nil, a)

	assert.False(t, res.eos)
	assert.Empty(t, a.packets)
	assert.Equal(t, []string{"open a", "close a", "ended false"}, res.log.list())
}

func TestPacketTooLarge(t *testing.T) {
	s := newStream(t, av.TagH264)
	s.packet(t, mediaPacket(1, true, make([]byte, 2048)...))

	core, logs := observer.New(zapcore.DebugLevel)
	a := &fakeSink{name: "a"}
	_, res := runDemuxer(t, s.Bytes(), zap.New(core), a)

	assert.False(t, res.eos)
	assert.Empty(t, a.packets)
	assert.Equal(t, 1, logs.FilterMessage("out of memory").Len())
}

func TestRegistryFrozenAfterStart(t *testing.T) {
	d, _ := runDemuxer(t, nil, nil)

	assert.Equal(t, errDemuxerStarted, d.AddSink(&fakeSink{name: "late", log: &eventLog{}}))
	assert.Equal(t, errDemuxerStarted, d.Start())
	assert.Equal(t, errDemuxerSink, d.AddSink(nil))

	select {
	case <-d.Done():
	default:
		t.Fatal("done channel not closed after join")
	}
}

func TestCloseConnEndsSession(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	log := &eventLog{}
	a := &fakeSink{name: "a", log: log}
	opened := make(chan struct{})

	d, err := New(
		WithDemuxerName("video"),
		WithDemuxerConn(local),
		WithDemuxerOnEnded(func(_ *Demuxer, eos bool) { log.add("ended %v", eos) }),
	)
	require.NoError(t, err)
	require.NoError(t, d.AddSink(&openNotifier{PacketSink: a, opened: opened}))
	require.NoError(t, d.Start())

	go func() {
		w := frame.NewWriter(remote)
		_ = w.WriteCodecTag(av.TagH264)
		_ = w.WritePacket(mediaPacket(1, true, 0x65))
	}()

	<-opened
	require.NoError(t, d.Close())

	assert.True(t, d.Join())
	events := log.list()
	assert.Equal(t, "open a", events[0])
	assert.Equal(t, []string{"close a", "ended true"}, events[len(events)-2:])
}

type openNotifier struct {
	PacketSink
	opened chan struct{}
}

func (n *openNotifier) Open(codec *av.Codec) error {
	err := n.PacketSink.Open(codec)
	close(n.opened)
	return err
}
