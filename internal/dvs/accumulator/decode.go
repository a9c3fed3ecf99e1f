package accumulator

import "encoding/binary"

// CoordinateMask keeps the 15 coordinate bits of a payload word.
const CoordinateMask = 0x7FFF

// payloadEventBytes is the size of one encoded event: a y word followed by
// an x word, each 16-bit little-endian.
const payloadEventBytes = 4

// DecodePayload walks a compact binary payload and calls fn with each
// decoded (x, y). A trailing partial event is ignored. It returns the number
// of events decoded.
func DecodePayload(payload []byte, fn func(x, y int)) int {
	n := len(payload) / payloadEventBytes
	for i := 0; i < n; i++ {
		off := i * payloadEventBytes
		y := binary.LittleEndian.Uint16(payload[off:]) & CoordinateMask
		x := binary.LittleEndian.Uint16(payload[off+2:]) & CoordinateMask
		fn(int(x), int(y))
	}
	return n
}

// EncodePayload appends the compact form of (x, y) to dst. It is the inverse
// of DecodePayload and is mainly used by tests and replay tools.
func EncodePayload(dst []byte, x, y int) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(y)&CoordinateMask)
	return binary.LittleEndian.AppendUint16(dst, uint16(x)&CoordinateMask)
}
