// Package grpcstream publishes event batches over a gRPC server stream and
// subscribes to them as a dvs.Source. Batches travel as
// google.protobuf.BytesValue messages, so no generated stubs are needed.
package grpcstream

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/dvs/network"
)

// recordBytes is one event: uint64 timestamp then the uint32 UDP wire word,
// both little-endian.
const recordBytes = 12

// EncodeBatch appends events to dst.
func EncodeBatch(dst []byte, events ...dvs.Event) []byte {
	for _, ev := range events {
		dst = binary.LittleEndian.AppendUint64(dst, ev.Timestamp)
		dst = binary.LittleEndian.AppendUint32(dst, network.EncodeWord(ev))
	}
	return dst
}

// DecodeBatch appends the events in b to dst.
func DecodeBatch(b []byte, dst []dvs.Event) ([]dvs.Event, error) {
	if len(b)%recordBytes != 0 {
		return dst, fmt.Errorf("batch length %d is not a multiple of %d", len(b), recordBytes)
	}
	for off := 0; off < len(b); off += recordBytes {
		ev := network.DecodeWord(binary.LittleEndian.Uint32(b[off+8:]))
		ev.Timestamp = binary.LittleEndian.Uint64(b[off:])
		dst = append(dst, ev)
	}
	return dst, nil
}
