package flv

import (
	"bytes"
	"io"

	"github.com/gwuhaolin/livego/protocol/amf"
	"github.com/gwuhaolin/livego/utils/pio"
	"github.com/pkg/errors"
)

const (
	headerLen  = 9
	prevTagLen = 4

	flagAudio = 0x04
	flagVideo = 0x01
)

// Writer writes an FLV file: the 9-byte header, then tags each followed by
// its PreviousTagSize.
type Writer struct {
	w       io.Writer
	buf     []byte
	enc     *amf.Encoder
	written int64
}

func NewWriter(w io.Writer, hasVideo, hasAudio bool) (*Writer, error) {
	fw := &Writer{
		w:   w,
		buf: make([]byte, TagHeaderSize),
		enc: &amf.Encoder{},
	}

	var flags uint8
	if hasVideo {
		flags |= flagVideo
	}
	if hasAudio {
		flags |= flagAudio
	}

	h := []byte{'F', 'L', 'V', 0x01, flags, 0, 0, 0, headerLen}
	if err := fw.write(h); err != nil {
		return nil, errors.Wrap(err, "write flv header")
	}

	pio.PutI32BE(fw.buf[:prevTagLen], 0)
	if err := fw.write(fw.buf[:prevTagLen]); err != nil {
		return nil, errors.Wrap(err, "write flv header")
	}

	return fw, nil
}

// WriteMetaData writes an onMetaData script tag at timestamp 0.
func (fw *Writer) WriteMetaData(meta amf.Object) error {
	var b bytes.Buffer
	if _, err := fw.enc.Encode(&b, "onMetaData", amf.AMF0); err != nil {
		return errors.Wrap(err, "encode metadata name")
	}
	if _, err := fw.enc.Encode(&b, meta, amf.AMF0); err != nil {
		return errors.Wrap(err, "encode metadata")
	}

	return fw.WriteTag(TagScriptData, 0, b.Bytes())
}

// WriteTag writes one tag whose body is the concatenation of data.
func (fw *Writer) WriteTag(typeID uint8, timestamp uint32, data ...[]byte) error {
	var dataLen int
	for _, d := range data {
		dataLen += len(d)
	}
	if dataLen > 0xffffff {
		return errors.Errorf("tag data too large: %d", dataLen)
	}

	h := fw.buf[:TagHeaderSize]
	pio.PutU8(h[0:1], typeID)
	pio.PutI24BE(h[1:4], int32(dataLen))
	pio.PutI24BE(h[4:7], int32(timestamp&0xffffff))
	pio.PutU8(h[7:8], uint8(timestamp>>24&0xff))
	pio.PutI24BE(h[8:11], 0)

	if err := fw.write(h); err != nil {
		return err
	}
	for _, d := range data {
		if err := fw.write(d); err != nil {
			return err
		}
	}

	pio.PutU32BE(h[:prevTagLen], uint32(dataLen+TagHeaderSize))
	return fw.write(h[:prevTagLen])
}

func (fw *Writer) Written() int64 {
	return fw.written
}

func (fw *Writer) write(b []byte) error {
	n, err := fw.w.Write(b)
	fw.written += int64(n)
	if err != nil {
		return errors.Wrap(err, "write flv")
	}
	return nil
}
