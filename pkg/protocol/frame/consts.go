package frame

const (
	CodecTagSize = 4  // 会话开始时的codec tag
	HeaderSize   = 12 // 8 bytes pts_flags + 4 bytes payload length
)

/*
 * pts_flags (大端64位):
 *
 *  byte 7   byte 6   byte 5        ...                    byte 0
 * CK...... ........ ........ ........ ........ ........ ........ ........
 * ^^<------------------------------------------------------------------->
 * ||                                PTS
 * | `- key frame
 *  `-- config packet
 */
const (
	FlagConfig   uint64 = 1 << 63
	FlagKeyFrame uint64 = 1 << 62
	PTSMask             = FlagKeyFrame - 1
)
