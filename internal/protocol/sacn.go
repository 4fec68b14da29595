package protocol

import (
	"encoding/binary"
)

// E1.31 (sACN) constants. Layout per ANSI E1.31-2016; see ESTA's published
// packet diagrams for field offsets.
const (
	UniverseSize = 512 // DMX channels per universe

	vectorRootData  = 0x00000004
	vectorFrameData = 0x00000002
	vectorDMPSet    = 0x02

	rootLen    = 38 // through end of root layer vector+CID
	framingLen = 77 // framing layer body
	dmpHeaderLen = 10

	acnPacketIdentifier = "ASC-E1.17\x00\x00\x00"

	// DefaultPriority is the sACN data priority used when none is configured.
	DefaultPriority uint8 = 100

	// Port is the standard E1.31 UDP port.
	Port = 5568
)

// DMXFrame is up to one universe's worth of channel data (no start code).
type DMXFrame []byte

// BuildSACNPacket serializes one E1.31 data packet carrying frame on the
// given universe, with sourceName identifying this sender and seq the
// packet's sequence number (wraps mod 256 per spec.md §6).
func BuildSACNPacket(cid [16]byte, sourceName string, universe uint16, seq uint8, priority uint8, frame DMXFrame) []byte {
	if len(frame) > UniverseSize {
		frame = frame[:UniverseSize]
	}

	dmpPropCount := 1 + len(frame) // DMX start code + channel data
	total := rootLen + framingLen + dmpHeaderLen + dmpPropCount

	buf := make([]byte, total)

	// Root layer.
	binary.BigEndian.PutUint16(buf[0:2], 0x0010) // preamble size
	binary.BigEndian.PutUint16(buf[2:4], 0x0000) // postamble size
	copy(buf[4:16], acnPacketIdentifier)
	flagsLen := 0x7000 | uint16(total-16)
	binary.BigEndian.PutUint16(buf[16:18], flagsLen)
	binary.BigEndian.PutUint32(buf[18:22], vectorRootData)
	copy(buf[22:38], cid[:])

	// Framing layer.
	off := rootLen
	flagsLen = 0x7000 | uint16(total-off)
	binary.BigEndian.PutUint16(buf[off:off+2], flagsLen)
	binary.BigEndian.PutUint32(buf[off+2:off+6], vectorFrameData)
	nameBytes := []byte(sourceName)
	if len(nameBytes) > 63 {
		nameBytes = nameBytes[:63]
	}
	copy(buf[off+6:off+70], nameBytes)
	buf[off+70] = priority
	binary.BigEndian.PutUint16(buf[off+71:off+73], 0) // sync address: none
	buf[off+73] = seq
	buf[off+74] = 0 // options
	binary.BigEndian.PutUint16(buf[off+75:off+77], universe)

	// DMP layer.
	off = rootLen + framingLen
	flagsLen = 0x7000 | uint16(total-off)
	binary.BigEndian.PutUint16(buf[off:off+2], flagsLen)
	buf[off+2] = vectorDMPSet
	buf[off+3] = 0xa1 // address type & data type
	binary.BigEndian.PutUint16(buf[off+4:off+6], 0)      // first property address
	binary.BigEndian.PutUint16(buf[off+6:off+8], 0x0001) // address increment
	binary.BigEndian.PutUint16(buf[off+8:off+10], uint16(dmpPropCount))

	// Property values: DMX start code (0) followed by channel data.
	buf[off+10] = 0x00
	copy(buf[off+11:], frame)

	return buf
}

// UniverseCount returns how many contiguous universes are needed to carry
// pixelCount RGB pixels (3 bytes/pixel), per spec.md §4.1 "larger pixel
// counts span multiple universes with contiguous numbering".
func UniverseCount(pixelCount int) int {
	totalBytes := pixelCount * 3
	n := totalBytes / UniverseSize
	if totalBytes%UniverseSize != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}
