package flv

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var errInvalidSignature = errors.New("invalid flv signature")

// Reader reads back tags produced by Writer.
type Reader struct {
	r   io.Reader
	buf [TagHeaderSize]byte

	HasVideo bool
	HasAudio bool
}

func NewReader(r io.Reader) (*Reader, error) {
	fr := &Reader{r: r}

	h := make([]byte, headerLen+prevTagLen)
	if _, err := io.ReadFull(r, h); err != nil {
		return nil, errors.Wrap(err, "read flv header")
	}
	if !bytes.Equal(h[:3], []byte("FLV")) {
		return nil, errInvalidSignature
	}

	fr.HasVideo = h[4]&flagVideo != 0
	fr.HasAudio = h[4]&flagAudio != 0

	return fr, nil
}

// ReadTag returns the next tag with its media header decoded, and the tag
// body following that media header. io.EOF marks the end of the file.
func (fr *Reader) ReadTag() (*Tag, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.buf[:]); err != nil {
		return nil, nil, err
	}

	tag := new(Tag)
	if _, err := tag.DecodeTagHeader(fr.buf[:]); err != nil {
		return nil, nil, err
	}

	body := make([]byte, tag.DataSize()+prevTagLen)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, nil, errors.Wrap(err, "read tag body")
	}
	body = body[:tag.DataSize()]

	n, err := tag.DecodeMediaTagHeader(body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode media tag header")
	}

	return tag, body[n:], nil
}
