package eventfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// The .evz container is a zstd stream holding a header followed by blocks.
//
//	header: "EVZ1" magic, uint16 width, uint16 height (little-endian)
//	block:  uvarint count, then count records of
//	        uvarint timestamp delta, uint16 x, uint16 y, uint8 polarity
//
// Timestamp deltas run across block boundaries. A zero count ends the
// stream.
const (
	containerMagic = "EVZ1"
	maxBlockEvents = 4096
	maxRecordBytes = binary.MaxVarintLen64 + 5
)

// ContainerHeader carries the sensor geometry of a recording; zero means
// unknown.
type ContainerHeader struct {
	Width  uint16
	Height uint16
}

// ContainerSink writes the .evz container.
type ContainerSink struct {
	zw     *zstd.Encoder
	closer io.Closer
	block  []byte
	count  int
	lastTS uint64
	closed bool
}

// NewContainerSink writes a header to w and returns a sink for events.
func NewContainerSink(w io.Writer, closer io.Closer, hdr ContainerHeader) (*ContainerSink, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	header := make([]byte, 0, 8)
	header = append(header, containerMagic...)
	header = binary.LittleEndian.AppendUint16(header, hdr.Width)
	header = binary.LittleEndian.AppendUint16(header, hdr.Height)
	if _, err := zw.Write(header); err != nil {
		zw.Close()
		return nil, &dvs.TransportError{Op: "write container header", Err: err}
	}
	return &ContainerSink{
		zw:     zw,
		closer: closer,
		block:  make([]byte, 0, maxBlockEvents*maxRecordBytes),
	}, nil
}

func (s *ContainerSink) Write(ev dvs.Event) error {
	if s.closed {
		return &dvs.TransportError{Op: "write container", Err: io.ErrClosedPipe}
	}
	if ev.Timestamp < s.lastTS {
		return fmt.Errorf("container: timestamp %d before %d", ev.Timestamp, s.lastTS)
	}
	delta := ev.Timestamp - s.lastTS
	s.lastTS = ev.Timestamp
	s.block = binary.AppendUvarint(s.block, delta)
	s.block = binary.LittleEndian.AppendUint16(s.block, ev.X)
	s.block = binary.LittleEndian.AppendUint16(s.block, ev.Y)
	if ev.Polarity {
		s.block = append(s.block, 1)
	} else {
		s.block = append(s.block, 0)
	}
	s.count++
	if s.count == maxBlockEvents {
		return s.writeBlock()
	}
	return nil
}

func (s *ContainerSink) writeBlock() error {
	if s.count == 0 {
		return nil
	}
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(s.count))
	if _, err := s.zw.Write(prefix[:n]); err != nil {
		return &dvs.TransportError{Op: "write container block", Err: err}
	}
	if _, err := s.zw.Write(s.block); err != nil {
		return &dvs.TransportError{Op: "write container block", Err: err}
	}
	s.block = s.block[:0]
	s.count = 0
	return nil
}

// Flush writes the pending block and flushes the compressor.
func (s *ContainerSink) Flush() error {
	if s.closed {
		return nil
	}
	if err := s.writeBlock(); err != nil {
		return err
	}
	if err := s.zw.Flush(); err != nil {
		return &dvs.TransportError{Op: "flush container", Err: err}
	}
	return nil
}

// Close writes the end marker and closes the stream.
func (s *ContainerSink) Close() error {
	if s.closed {
		return nil
	}
	err := s.writeBlock()
	if err == nil {
		if _, werr := s.zw.Write([]byte{0}); werr != nil {
			err = &dvs.TransportError{Op: "write container trailer", Err: werr}
		}
	}
	s.closed = true
	if cerr := s.zw.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}
	return err
}

// ContainerSource reads the .evz container.
type ContainerSource struct {
	zr        *zstd.Decoder
	br        *bufio.Reader
	closer    io.Closer
	Header    ContainerHeader
	remaining uint64
	lastTS    uint64
	eof       bool
}

// NewContainerSource reads and validates the header from r.
func NewContainerSource(r io.Reader, closer io.Closer) (*ContainerSource, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	br := bufio.NewReader(zr)
	var header [8]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		zr.Close()
		return nil, fmt.Errorf("container header: %w", err)
	}
	if string(header[:4]) != containerMagic {
		zr.Close()
		return nil, fmt.Errorf("container header: bad magic %q", header[:4])
	}
	return &ContainerSource{
		zr:     zr,
		br:     br,
		closer: closer,
		Header: ContainerHeader{
			Width:  binary.LittleEndian.Uint16(header[4:]),
			Height: binary.LittleEndian.Uint16(header[6:]),
		},
	}, nil
}

func (s *ContainerSource) Next(ctx context.Context) (dvs.Event, error) {
	if s.eof {
		return dvs.Event{}, io.EOF
	}
	if ctx.Err() != nil {
		s.eof = true
		return dvs.Event{}, io.EOF
	}
	if s.remaining == 0 {
		count, err := binary.ReadUvarint(s.br)
		if err != nil {
			s.eof = true
			if errors.Is(err, io.EOF) {
				// Stream cut without an end marker.
				return dvs.Event{}, fmt.Errorf("container: %w", io.ErrUnexpectedEOF)
			}
			return dvs.Event{}, fmt.Errorf("container block: %w", err)
		}
		if count == 0 {
			s.eof = true
			return dvs.Event{}, io.EOF
		}
		s.remaining = count
	}

	delta, err := binary.ReadUvarint(s.br)
	if err != nil {
		s.eof = true
		return dvs.Event{}, fmt.Errorf("container record: %w", noEOF(err))
	}
	var rec [5]byte
	if _, err := io.ReadFull(s.br, rec[:]); err != nil {
		s.eof = true
		return dvs.Event{}, fmt.Errorf("container record: %w", noEOF(err))
	}
	s.remaining--
	s.lastTS += delta
	return dvs.Event{
		Timestamp: s.lastTS,
		X:         binary.LittleEndian.Uint16(rec[0:]),
		Y:         binary.LittleEndian.Uint16(rec[2:]),
		Polarity:  rec[4] != 0,
	}, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (s *ContainerSource) Close() error {
	if s.eof && s.zr == nil {
		return nil
	}
	s.eof = true
	if s.zr != nil {
		s.zr.Close()
		s.zr = nil
	}
	if s.closer != nil {
		c := s.closer
		s.closer = nil
		return c.Close()
	}
	return nil
}
