package demuxer

import (
	"fmt"

	"github.com/pkg/errors"

	"screenlive/pkg/av"
)

// PacketSink consumes the demuxed packets of one stream (a decoder, a
// recorder, ...).
//
// Open is called once before any Push; Close is called exactly once for every
// sink whose Open succeeded. Push must not retain pkt.Data after it returns
// unless it copies it.
type PacketSink interface {
	Open(codec *av.Codec) error
	Push(pkt *av.Packet) error
	Close()
}

// Named is implemented by sinks that want their identity in the logs.
type Named interface {
	Name() string
}

func sinkName(sink PacketSink) string {
	if n, ok := sink.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", sink)
}

// openSinks opens every sink in registration order. On failure the sinks
// already opened are closed in reverse order.
func (d *Demuxer) openSinks(codec *av.Codec) error {
	for i, sink := range d.sinks {
		if err := sink.Open(codec); err != nil {
			d.closeFirstSinks(i)
			return errors.Wrapf(err, "open sink %s", sinkName(sink))
		}
	}

	return nil
}

func (d *Demuxer) closeFirstSinks(count int) {
	for count > 0 {
		count--
		d.sinks[count].Close()
	}
}

func (d *Demuxer) closeSinks() {
	d.closeFirstSinks(len(d.sinks))
}

// pushPacket hands pkt to every sink in registration order and stops at the
// first failure.
func (d *Demuxer) pushPacket(pkt *av.Packet) error {
	for _, sink := range d.sinks {
		if err := sink.Push(pkt); err != nil {
			return errors.Wrapf(err, "push to sink %s", sinkName(sink))
		}
	}

	return nil
}
