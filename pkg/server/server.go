package server

import (
	"context"
	"net"
	"net/http"
	_ "net/http/pprof"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"screenlive/pkg/av"
	"screenlive/pkg/demuxer"
	"screenlive/pkg/sink/metrics"
	"screenlive/pkg/sink/relay"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

type Server struct {
	configPath string
	config     *config
	logger     *zap.Logger

	broker *broker    //设备流会话管理器
	pool   *ants.Pool //连接处理协程池, 容量即最大会话数

	codecResolver func(av.CodecID) (*av.Codec, bool)
	overrides     []func(*config)

	registry  *prometheus.Registry
	collector *metrics.Collector
	publisher relay.Publisher
	nc        *nats.Conn // 由server创建的nats连接, Shutdown时关闭

	mu       sync.Mutex
	listener net.Listener
	api      *http.Server
	closed   bool
}

func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// ListenAndServe accepts device connections (reverse tunnel: the device
// connects to us) and serves the HTTP API when configured.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrap(err, "net listen")
	}
	s.logger.Info("listening for devices", zap.String("addr", ln.Addr().String()))

	if s.config.APIAddr != "" {
		go func() {
			if err := s.ListenAndServeAPI(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("listen http api", zap.Error(err))
			}
		}()
	}

	if s.config.EnablePprof {
		go func() {
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				s.logger.Error("listen http pprof", zap.Error(err))
			}
		}()
	}

	return s.Serve(ln)
}

func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	for {
		rwc, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return errors.Wrap(err, "listener accept")
		}

		if err := s.pool.Submit(func() {
			s.ServeConn(rwc, "")
		}); err != nil {
			// 会话数已满
			s.logger.Warn("reject device connection",
				zap.String("remote", rwc.RemoteAddr().String()),
				zap.Error(err))
			rwc.Close()
		}
	}
}

// DialAndServe connects to a device socket (forward tunnel) and serves the
// stream until it ends.
func (s *Server) DialAndServe(ctx context.Context, addr, name string) (bool, error) {
	var d net.Dialer
	rwc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, errors.Wrapf(err, "dial %s", addr)
	}

	// ctx取消时关闭连接, 结束阻塞中的读
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			rwc.Close()
		case <-stop:
		}
	}()

	return s.ServeConn(rwc, name), nil
}

// ServeConn runs one device stream session on rwc and returns true when the
// device ended the stream cleanly. rwc is closed on return.
func (s *Server) ServeConn(rwc net.Conn, name string) bool {
	defer rwc.Close()

	sess, err := s.broker.createSession(rwc, name)
	if err != nil {
		if errors.Cause(err) == ErrServerClosed {
			s.logger.Info("reject device connection, server closed")
		} else {
			s.logger.Error("create session", zap.Error(err))
		}
		return false
	}
	defer s.broker.delSession(sess.id)

	sess.logger.Info("session started",
		zap.String("name", sess.name),
		zap.String("remote", rwc.RemoteAddr().String()))

	return sess.run()
}

// Shutdown stops accepting devices, closes every session socket and waits
// for their demuxers to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln, api := s.listener, s.api
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	if api != nil {
		g.Go(func() error {
			return errors.Wrap(api.Shutdown(ctx), "shutdown api")
		})
	}
	g.Go(func() error {
		return s.broker.closeAll(ctx)
	})
	err := g.Wait()

	s.pool.Release()
	if s.nc != nil {
		s.nc.Close()
	}

	s.logger.Info("server shutdown", zap.Error(err))
	s.logger.Sync()

	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func New(opts ...serverOption) (*Server, error) {
	s, err := (&Server{}).loadOptions(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load options")
	}

	return s, nil
}

func (s *Server) loadOptions(opts ...serverOption) (*Server, error) {
	for _, opt := range opts {
		opt(s)
	}

	if s.config == nil {
		if s.configPath == "" {
			var err error
			if s.configPath, err = getAbsConfigPath(); err != nil {
				return nil, errors.Wrap(err, "get abs config path while config path not assigned")
			}
		}
		if err := s.loadConfig(s.configPath); err != nil {
			return nil, errors.Wrap(err, "load config")
		}
	}
	for _, override := range s.overrides {
		override(s.config)
	}
	s.config.setDefaults()

	if s.logger == nil {
		if err := s.initLogger(); err != nil {
			return nil, errors.Wrap(err, "init logger")
		}
	}

	resolver, err := demuxer.CodecResolverFor(s.config.Codecs)
	if err != nil {
		return nil, errors.Wrap(err, "codecs")
	}
	s.codecResolver = resolver

	if s.broker == nil {
		if b, err := newBroker(
			WithBrokerServer(s),
		); err != nil {
			return nil, errors.Wrap(err, "create session broker")
		} else {
			s.broker = b
		}
	}

	if s.pool == nil {
		p, err := ants.NewPool(s.config.MaxSessions, ants.WithNonblocking(true))
		if err != nil {
			return nil, errors.Wrap(err, "create session pool")
		}
		s.pool = p
	}

	if s.config.Sinks.Metrics.Enable && s.collector == nil {
		s.registry = prometheus.NewRegistry()
		c, err := metrics.NewCollector(s.registry)
		if err != nil {
			return nil, errors.Wrap(err, "create metrics collector")
		}
		s.collector = c
	}

	if s.config.Sinks.Relay.Enable && s.publisher == nil {
		url := s.config.Sinks.Relay.URL
		if url == "" {
			url = nats.DefaultURL
		}
		nc, err := nats.Connect(url,
			nats.Name("screenlive"),
			nats.DisconnectHandler(func(c *nats.Conn) {
				s.logger.Warn("nats disconnected")
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				s.logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
			}),
		)
		if err != nil {
			return nil, errors.Wrap(err, "connect nats")
		}
		s.nc = nc
		s.publisher = nc
	}

	return s, nil
}

type serverOption func(*Server)

func WithConfigPath(p string) serverOption {
	return func(s *Server) {
		s.configPath = p
	}
}

func WithLogger(logger *zap.Logger) serverOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPublisher relays every session to pub instead of a configured nats server.
func WithPublisher(pub relay.Publisher) serverOption {
	return func(s *Server) {
		s.publisher = pub
	}
}

// WithDefaultConfig skips the config file, options and defaults still apply.
func WithDefaultConfig() serverOption {
	return func(s *Server) {
		s.config = new(config)
	}
}

// WithRecording records every session into dir using format (ts, flv, raw).
func WithRecording(dir, format string) serverOption {
	return func(s *Server) {
		s.overrides = append(s.overrides, func(c *config) {
			c.Sinks.Recorder.Enable = true
			c.Sinks.Recorder.Dir = dir
			c.Sinks.Recorder.Format = format
		})
	}
}

func WithProbe(strict bool) serverOption {
	return func(s *Server) {
		s.overrides = append(s.overrides, func(c *config) {
			c.Sinks.Probe.Enable = true
			c.Sinks.Probe.Strict = strict
		})
	}
}
