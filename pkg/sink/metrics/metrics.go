package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"screenlive/pkg/av"
)

const namespace = "screenlive"

// Collector owns the stream metrics shared by every session of a process.
type Collector struct {
	packets   *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	keyFrames *prometheus.CounterVec
	open      prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	labels := []string{"stream", "codec"}

	c := &Collector{
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets received from devices.",
		}, labels),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Payload bytes received from devices.",
		}, labels),
		keyFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyframes_total",
			Help:      "Key frames received from devices.",
		}, labels),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_open",
			Help:      "Streams whose sinks are currently open.",
		}),
	}

	for _, col := range []prometheus.Collector{c.packets, c.bytes, c.keyFrames, c.open} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}

	return c, nil
}

// NewSink returns a sink accounting packets under the given stream label.
func (c *Collector) NewSink(stream string) *Sink {
	return &Sink{c: c, stream: stream}
}

type Sink struct {
	c      *Collector
	stream string

	packets   prometheus.Counter
	bytes     prometheus.Counter
	keyFrames prometheus.Counter
	opened    bool
}

func (s *Sink) Name() string {
	return "metrics"
}

func (s *Sink) Open(codec *av.Codec) error {
	if codec == nil {
		return errors.New("metrics codec required")
	}

	s.packets = s.c.packets.WithLabelValues(s.stream, codec.Name)
	s.bytes = s.c.bytes.WithLabelValues(s.stream, codec.Name)
	s.keyFrames = s.c.keyFrames.WithLabelValues(s.stream, codec.Name)

	s.c.open.Inc()
	s.opened = true
	return nil
}

func (s *Sink) Push(pkt *av.Packet) error {
	s.packets.Inc()
	s.bytes.Add(float64(pkt.Len()))
	if pkt.KeyFrame {
		s.keyFrames.Inc()
	}
	return nil
}

func (s *Sink) Close() {
	if s.opened {
		s.c.open.Dec()
		s.opened = false
	}
}
