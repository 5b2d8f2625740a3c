package recorder

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"screenlive/pkg/av"
)

type Format string

const (
	FormatTS  Format = "ts"
	FormatFLV Format = "flv"
	FormatRaw Format = "raw"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTS, FormatFLV, FormatRaw:
		return f, nil
	default:
		return "", errors.Errorf("unknown record format: %q", s)
	}
}

// muxer turns the packets of one stream into a container.
type muxer interface {
	open(w io.Writer, codec *av.Codec) error
	write(pkt *av.Packet) error
	close() error
}

func newMuxer(f Format, codec *av.Codec) (muxer, error) {
	switch f {
	case FormatTS:
		switch codec.ID {
		case av.CodecH264, av.CodecH265:
			return &tsMuxer{}, nil
		}
	case FormatFLV:
		if codec.ID == av.CodecH264 {
			return &flvMuxer{}, nil
		}
	case FormatRaw:
		return &rawMuxer{}, nil
	}

	return nil, errors.Wrapf(ErrUnsupportedCodec, "%s in %s", codec.Name, f)
}

var ErrUnsupportedCodec = errors.New("codec not supported by format")

// Recorder writes the stream into <dir>/<name>.<format>.
type Recorder struct {
	dir          string
	name         string
	format       Format
	audioFormat  Format
	waitKeyFrame bool
	logger       *zap.Logger

	path    string
	file    *os.File
	bw      *bufio.Writer
	cw      *countWriter
	mux     muxer
	isVideo bool

	gotKeyFrame bool
	dropped     int64
}

func New(opts ...recorderOption) (*Recorder, error) {
	r, err := (&Recorder{}).loadOptions(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load options")
	}

	return r, nil
}

func (r *Recorder) Name() string {
	return "recorder"
}

// Path is valid after a successful Open.
func (r *Recorder) Path() string {
	return r.path
}

func (r *Recorder) Open(codec *av.Codec) error {
	if codec == nil {
		return errors.New("recorder codec required")
	}

	f := r.format
	if codec.IsAudio() {
		f = r.audioFormat
	}

	mux, err := newMuxer(f, codec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return errors.Wrap(err, "create record dir")
	}

	path := filepath.Join(r.dir, r.name+"."+string(f))
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create record file")
	}

	r.cw = &countWriter{w: file}
	r.bw = bufio.NewWriter(r.cw)
	if err := mux.open(r.bw, codec); err != nil {
		file.Close()
		os.Remove(path)
		return errors.Wrapf(err, "open %s muxer", f)
	}

	r.path, r.file, r.mux = path, file, mux
	r.isVideo = codec.IsVideo()
	r.gotKeyFrame = false
	r.dropped = 0

	r.logger.Info("recording started",
		zap.String("path", path),
		zap.String("codec", codec.Name),
		zap.String("format", string(f)))

	return nil
}

func (r *Recorder) Push(pkt *av.Packet) error {
	if r.waitKeyFrame && r.isVideo && !r.gotKeyFrame {
		if !pkt.KeyFrame {
			r.dropped++
			return nil
		}
		r.gotKeyFrame = true
	}

	if err := r.mux.write(pkt); err != nil {
		return errors.Wrap(err, "write packet")
	}

	return nil
}

func (r *Recorder) Close() {
	if r.file == nil {
		return
	}

	if err := r.mux.close(); err != nil {
		r.logger.Error("close muxer", zap.Error(err))
	}
	if err := r.bw.Flush(); err != nil {
		r.logger.Error("flush record file", zap.Error(err))
	}
	if err := r.file.Close(); err != nil {
		r.logger.Error("close record file", zap.Error(err))
	}

	r.logger.Info("recording finished",
		zap.String("path", r.path),
		zap.Int64("bytes", r.cw.n),
		zap.Int64("dropped", r.dropped))
	r.file = nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (r *Recorder) loadOptions(opts ...recorderOption) (*Recorder, error) {
	for _, opt := range opts {
		opt(r)
	}

	if r.name == "" {
		return nil, errRecorderName
	}

	if r.dir == "" {
		r.dir = "."
	}

	if r.format == "" {
		r.format = FormatTS
	}
	if r.audioFormat == "" {
		r.audioFormat = FormatRaw
	}

	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("sink", "recorder"), zap.String("name", r.name))

	return r, nil
}

type recorderOption func(*Recorder)

func WithRecorderDir(dir string) recorderOption {
	return func(r *Recorder) {
		r.dir = dir
	}
}

// WithRecorderName sets the file base name, without extension.
func WithRecorderName(name string) recorderOption {
	return func(r *Recorder) {
		r.name = name
	}
}

func WithRecorderFormat(f Format) recorderOption {
	return func(r *Recorder) {
		r.format = f
	}
}

func WithRecorderAudioFormat(f Format) recorderOption {
	return func(r *Recorder) {
		r.audioFormat = f
	}
}

// WithRecorderWaitKeyFrame drops video packets until the first key frame.
func WithRecorderWaitKeyFrame(wait bool) recorderOption {
	return func(r *Recorder) {
		r.waitKeyFrame = wait
	}
}

func WithRecorderLogger(logger *zap.Logger) recorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

var (
	errRecorderName = errors.New("recorder name required")
)
