package network

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/eventstream/internal/dvs"
)

const (
	// MaxDatagramBytes is the largest UDP payload over IPv4.
	MaxDatagramBytes = 65507

	coordinateMask = 0x7FFF
	polarityBit    = 1 << 15
	wordBytes      = 4
)

// EventBytes is the encoded size of one event.
func EventBytes(includeTimestamp bool) int {
	if includeTimestamp {
		return 2 * wordBytes
	}
	return wordBytes
}

// EncodeWord packs x, y and polarity into one wire word:
// (x & 0x7FFF) << 16 | polarity << 15 | (y & 0x7FFF).
func EncodeWord(ev dvs.Event) uint32 {
	w := uint32(ev.X&coordinateMask)<<16 | uint32(ev.Y&coordinateMask)
	if ev.Polarity {
		w |= polarityBit
	}
	return w
}

// DecodeWord is the inverse of EncodeWord. The timestamp is left zero.
func DecodeWord(w uint32) dvs.Event {
	return dvs.Event{
		X:        uint16(w>>16) & coordinateMask,
		Y:        uint16(w) & coordinateMask,
		Polarity: w&polarityBit != 0,
	}
}

// EncodeEvent appends the little-endian wire form of ev to dst. With
// includeTimestamp the low 32 bits of the timestamp follow the word.
func EncodeEvent(dst []byte, ev dvs.Event, includeTimestamp bool) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, EncodeWord(ev))
	if includeTimestamp {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(ev.Timestamp))
	}
	return dst
}

// DecodeDatagram appends the events carried by payload to dst. A payload
// whose length is not a whole number of events is rejected.
func DecodeDatagram(payload []byte, includeTimestamp bool, dst []dvs.Event) ([]dvs.Event, error) {
	stride := EventBytes(includeTimestamp)
	if len(payload)%stride != 0 {
		return dst, fmt.Errorf("datagram length %d is not a multiple of %d", len(payload), stride)
	}
	for off := 0; off < len(payload); off += stride {
		ev := DecodeWord(binary.LittleEndian.Uint32(payload[off:]))
		if includeTimestamp {
			ev.Timestamp = uint64(binary.LittleEndian.Uint32(payload[off+wordBytes:]))
		}
		dst = append(dst, ev)
	}
	return dst, nil
}
