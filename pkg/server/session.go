package server

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"screenlive/pkg/demuxer"
	"screenlive/pkg/sink/probe"
	"screenlive/pkg/sink/recorder"
	"screenlive/pkg/sink/relay"
)

// session is one device stream: its socket, its demuxer and the sinks fed by it.
type session struct {
	id        string // 会话ID(uuid)
	name      string // 录制文件名等使用, 默认同id
	rwc       net.Conn
	createdAt time.Time
	broker    *broker
	logger    *zap.Logger

	demuxer *demuxer.Demuxer
	probe   *probe.Probe
}

type sessionInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	RemoteAddr string        `json:"remoteAddr,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	Stats      demuxer.Stats `json:"stats"`
	Probe      *probe.Stats  `json:"probe,omitempty"`
}

// run blocks until the stream ended and returns its eos flag.
func (s *session) run() bool {
	if err := s.demuxer.Start(); err != nil {
		s.logger.Error("start demuxer", zap.Error(err))
		return false
	}

	return s.demuxer.Join()
}

// close interrupts the pending read, which ends the session.
func (s *session) close() error {
	return s.demuxer.Close()
}

func (s *session) info() sessionInfo {
	info := sessionInfo{
		ID:        s.id,
		Name:      s.name,
		CreatedAt: s.createdAt,
		Stats:     s.demuxer.Stats(),
	}
	if addr := s.rwc.RemoteAddr(); addr != nil {
		info.RemoteAddr = addr.String()
	}
	if s.probe != nil {
		ps := s.probe.Stats()
		info.Probe = &ps
	}
	return info
}

func (s *session) onEnded(d *demuxer.Demuxer, eos bool) {
	st := d.Stats()
	fields := []zap.Field{
		zap.Bool("eos", eos),
		zap.Int64("bytesRead", st.BytesRead),
		zap.Int64("packets", st.PacketsPushed),
		zap.Duration("duration", time.Since(s.createdAt)),
	}

	if eos {
		s.logger.Info("session ended", fields...)
	} else {
		s.logger.Warn("session ended with error", fields...)
	}
}

func (s *session) addSinks() error {
	srv := s.broker.server
	cfg := srv.config.Sinks

	if cfg.Probe.Enable {
		p, err := probe.New(
			probe.WithProbeLogger(s.logger),
			probe.WithProbeStrict(cfg.Probe.Strict),
		)
		if err != nil {
			return errors.Wrap(err, "create probe")
		}
		if err := s.demuxer.AddSink(p); err != nil {
			return err
		}
		s.probe = p
	}

	if cfg.Recorder.Enable {
		format, err := recorder.ParseFormat(cfg.Recorder.Format)
		if err != nil {
			return err
		}
		var audioFormat recorder.Format
		if cfg.Recorder.AudioFormat != "" {
			if audioFormat, err = recorder.ParseFormat(cfg.Recorder.AudioFormat); err != nil {
				return err
			}
		}

		r, err := recorder.New(
			recorder.WithRecorderDir(cfg.Recorder.Dir),
			recorder.WithRecorderName(s.name),
			recorder.WithRecorderFormat(format),
			recorder.WithRecorderAudioFormat(audioFormat),
			recorder.WithRecorderWaitKeyFrame(cfg.Recorder.WaitKeyFrame),
			recorder.WithRecorderLogger(s.logger),
		)
		if err != nil {
			return errors.Wrap(err, "create recorder")
		}
		if err := s.demuxer.AddSink(r); err != nil {
			return err
		}
	}

	if srv.collector != nil {
		if err := s.demuxer.AddSink(srv.collector.NewSink(s.name)); err != nil {
			return err
		}
	}

	if srv.publisher != nil {
		r, err := relay.New(srv.publisher, cfg.Relay.Subject+"."+s.name, relay.WithRelayLogger(s.logger))
		if err != nil {
			return errors.Wrap(err, "create relay")
		}
		if err := s.demuxer.AddSink(r); err != nil {
			return err
		}
	}

	return nil
}

func newSession(opts ...sessionOption) (*session, error) {
	return (&session{}).loadOptions(opts...)
}

func (s *session) loadOptions(opts ...sessionOption) (*session, error) {
	for _, opt := range opts {
		opt(s)
	}

	if s.id == "" {
		return nil, errSessionId
	}

	if s.rwc == nil {
		return nil, errSessionConn
	}

	if s.broker == nil {
		return nil, errSessionBroker
	}

	if s.name == "" {
		s.name = s.id
	}

	s.createdAt = time.Now()
	s.logger = s.broker.server.logger.With(zap.String("session", s.id))

	cfg := s.broker.server.config
	d, err := demuxer.New(
		demuxer.WithDemuxerName(s.name),
		demuxer.WithDemuxerConn(s.rwc),
		demuxer.WithDemuxerLogger(s.logger),
		demuxer.WithDemuxerReadBufSize(cfg.ReadBufSize),
		demuxer.WithDemuxerMaxPacketSize(cfg.MaxPacketSize),
		demuxer.WithDemuxerCodecResolver(s.broker.server.codecResolver),
		demuxer.WithDemuxerOnEnded(s.onEnded),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create demuxer")
	}
	s.demuxer = d

	if err := s.addSinks(); err != nil {
		return nil, errors.Wrap(err, "add sinks")
	}

	return s, nil
}

type sessionOption func(*session)

func WithSessionId(id string) sessionOption {
	return func(s *session) {
		s.id = id
	}
}

func WithSessionName(name string) sessionOption {
	return func(s *session) {
		s.name = name
	}
}

func WithSessionConn(rwc net.Conn) sessionOption {
	return func(s *session) {
		s.rwc = rwc
	}
}

func WithSessionBroker(b *broker) sessionOption {
	return func(s *session) {
		s.broker = b
	}
}

var (
	errSessionId     = errors.New("session id required")
	errSessionConn   = errors.New("session conn required")
	errSessionBroker = errors.New("session belongs to broker required")
)
