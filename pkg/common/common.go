package common

import "io"

// uint32 ==> []byte
func UintAsBytes(val uint32, buffer []byte, bigEndian bool) {
	Uint64AsBytes(uint64(val), buffer, bigEndian)
}

// uint64 ==> []byte, len(buffer)决定写入的字节数
func Uint64AsBytes(val uint64, buffer []byte, bigEndian bool) {
	n := len(buffer)
	for i := 0; i < n; i++ {
		if bigEndian {
			v := val >> uint((n-i-1)<<3)
			buffer[i] = byte(v) & 0xff
		} else {
			buffer[i] = byte(val) & 0xff
			val = val >> 8
		}
	}
}

// bytes ==> uint32
func BytesAsUint32(buffer []byte, bigEndian bool) uint32 {
	return uint32(BytesAsUint64(buffer, bigEndian))
}

// bytes ==> uint64
func BytesAsUint64(buffer []byte, bigEndian bool) uint64 {
	ret := uint64(0)

	n := len(buffer)
	for i := 0; i < n; i++ {
		if bigEndian {
			ret = ret<<8 + uint64(buffer[i])
		} else {
			ret += uint64(buffer[i]) << uint(i*8)
		}
	}

	return ret
}

// read len(buffer) bytes, then treats as uint32
func ReadBytesAsUint32(r io.Reader, buffer []byte, bigEndian bool) (uint32, error) {
	if _, err := io.ReadFull(r, buffer); err != nil {
		return 0, err
	}

	return BytesAsUint32(buffer, bigEndian), nil
}
