package connection

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Connection wraps the device socket of one stream. Reads block until the
// requested bytes arrived or the socket is closed; closing it from another
// goroutine is the only way to interrupt a pending read.
type Connection struct {
	inBytes int64 // 已读取的字节数(atomic), 保持64位对齐

	Rwc    io.ReadCloser
	Logger *zap.Logger

	// read
	ReadBufSize int
	Reader      *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

var (
	errRawConnection = errors.New("raw connection required")
)

func (c *Connection) Init() error {
	if c.Rwc == nil {
		return errRawConnection
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	if c.ReadBufSize > 0 {
		c.Reader = bufio.NewReaderSize(c.Rwc, c.ReadBufSize)
	} else {
		c.Reader = bufio.NewReader(c.Rwc)
	}

	return nil
}

// Read fills p entirely. A short read returns io.ErrUnexpectedEOF (or io.EOF
// when nothing was read) together with the number of bytes received.
func (c *Connection) Read(p []byte) (n int, err error) {
	n, err = io.ReadFull(c.Reader, p)
	inBytes := atomic.AddInt64(&c.inBytes, int64(n))
	if err != nil {
		if err == io.EOF { // peer close
			c.Logger.Debug("peer closed connection", zap.Int64("inBytes", inBytes))
		}

		return n, err
	}

	return n, nil
}

func (c *Connection) InBytes() int64 {
	return atomic.LoadInt64(&c.inBytes)
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Rwc.Close()
	})
	return c.closeErr
}
