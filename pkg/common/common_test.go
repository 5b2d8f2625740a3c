package common

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigEndianRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	Uint64AsBytes(0x8000_0000_0000_1234, buf, true)
	assert.Equal(t, []byte{0x80, 0, 0, 0, 0, 0, 0x12, 0x34}, buf)
	assert.Equal(t, uint64(0x8000_0000_0000_1234), BytesAsUint64(buf, true))

	buf = make([]byte, 4)
	UintAsBytes(0x68323634, buf, true)
	assert.Equal(t, []byte("h264"), buf)
	assert.Equal(t, uint32(0x68323634), BytesAsUint32(buf, true))
}

func TestLittleEndian(t *testing.T) {
	buf := make([]byte, 4)
	UintAsBytes(0x01020304, buf, false)
	assert.Equal(t, []byte{4, 3, 2, 1}, buf)
	assert.Equal(t, uint32(0x01020304), BytesAsUint32(buf, false))
}

func TestShortBuffer(t *testing.T) {
	buf := make([]byte, 3)
	UintAsBytes(0xaabbccdd, buf, true)
	assert.Equal(t, []byte{0xbb, 0xcc, 0xdd}, buf)
}

func TestReadBytesAsUint32(t *testing.T) {
	v, err := ReadBytesAsUint32(bytes.NewReader([]byte("opus")), make([]byte, 4), true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x6f707573), v)

	_, err = ReadBytesAsUint32(bytes.NewReader([]byte("op")), make([]byte, 4), true)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}
