package relay

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"screenlive/pkg/av"
	"screenlive/pkg/protocol/frame"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type flusher interface {
	Flush() error
}

// Relay republishes the stream in wire format: the codec tag once on
// <subject>.codec, then every packet (header + payload) on <subject>.packet.
type Relay struct {
	pub     Publisher
	subject string
	logger  *zap.Logger

	published int64
}

func New(pub Publisher, subject string, opts ...relayOption) (*Relay, error) {
	if pub == nil {
		return nil, errRelayPublisher
	}
	if subject == "" {
		return nil, errRelaySubject
	}

	r := &Relay{pub: pub, subject: subject}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("sink", "relay"), zap.String("subject", subject))

	return r, nil
}

func (r *Relay) Name() string {
	return "relay"
}

func (r *Relay) CodecSubject() string {
	return r.subject + ".codec"
}

func (r *Relay) PacketSubject() string {
	return r.subject + ".packet"
}

func (r *Relay) Open(codec *av.Codec) error {
	if codec == nil {
		return errors.New("relay codec required")
	}

	if err := r.pub.Publish(r.CodecSubject(), frame.CodecTagBytes(codec.Tag)); err != nil {
		return errors.Wrap(err, "publish codec")
	}

	return nil
}

func (r *Relay) Push(pkt *av.Packet) error {
	msg, err := frame.AppendPacket(make([]byte, 0, frame.HeaderSize+pkt.Len()), pkt)
	if err != nil {
		return errors.Wrap(err, "encode packet")
	}

	if err := r.pub.Publish(r.PacketSubject(), msg); err != nil {
		return errors.Wrap(err, "publish packet")
	}
	r.published++

	return nil
}

func (r *Relay) Close() {
	if f, ok := r.pub.(flusher); ok {
		if err := f.Flush(); err != nil {
			r.logger.Warn("flush publisher", zap.Error(err))
		}
	}

	r.logger.Debug("relay closed", zap.Int64("published", r.published))
}

type relayOption func(*Relay)

func WithRelayLogger(logger *zap.Logger) relayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

var (
	errRelayPublisher = errors.New("relay publisher required")
	errRelaySubject   = errors.New("relay subject required")
)
