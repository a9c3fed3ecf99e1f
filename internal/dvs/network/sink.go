package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/monitoring"
)

const (
	DefaultPacketSize = 128
	DefaultBufferSize = 1024
)

// PacketSinkConfig configures a PacketSink. PacketSize and BufferSize count
// events, not bytes.
type PacketSinkConfig struct {
	Address          string
	Port             int
	PacketSize       int
	BufferSize       int
	IncludeTimestamp bool
	// Dialer defaults to DialUDP.
	Dialer Dialer
}

func (c *PacketSinkConfig) normalize() error {
	if c.Address == "" {
		return dvs.Configf("address", "destination address is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return dvs.Configf("port", "port %d out of range", c.Port)
	}
	if c.PacketSize == 0 {
		c.PacketSize = DefaultPacketSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.PacketSize < 0 {
		return dvs.Configf("packet_size", "packet size must be positive, got %d", c.PacketSize)
	}
	if c.BufferSize < c.PacketSize {
		return dvs.Configf("buffer_size", "buffer size %d is smaller than packet size %d", c.BufferSize, c.PacketSize)
	}
	if n := c.PacketSize * EventBytes(c.IncludeTimestamp); n > MaxDatagramBytes {
		return dvs.Configf("packet_size", "%d events need %d bytes, over the %d byte datagram limit", c.PacketSize, n, MaxDatagramBytes)
	}
	if c.Dialer == nil {
		c.Dialer = DialUDP
	}
	return nil
}

// PacketSink sends events as fixed-size UDP datagrams. It is not safe for
// concurrent use.
type PacketSink struct {
	conn       UDPWriter
	address    string
	packetSize int
	bufferSize int
	stride     int
	withTS     bool

	batch     []byte
	pending   int
	events    uint64
	datagrams uint64
	closed    bool
}

// NewPacketSink validates cfg and connects the socket.
func NewPacketSink(cfg PacketSinkConfig) (*PacketSink, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	address := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	conn, err := cfg.Dialer(address)
	if err != nil {
		return nil, &dvs.TransportError{Op: "dial " + address, Err: err}
	}
	stride := EventBytes(cfg.IncludeTimestamp)
	return &PacketSink{
		conn:       conn,
		address:    address,
		packetSize: cfg.PacketSize,
		bufferSize: cfg.BufferSize,
		stride:     stride,
		withTS:     cfg.IncludeTimestamp,
		batch:      make([]byte, 0, cfg.BufferSize*stride),
	}, nil
}

// Write adds ev to the batch and sends a datagram once PacketSize events are
// pending. If the send fails the batch keeps every pending event. The batch
// never holds more than BufferSize events: when it is full, Write sends one
// datagram first and rejects ev if that fails.
func (s *PacketSink) Write(ev dvs.Event) error {
	if s.closed {
		return &dvs.TransportError{Op: "write", Err: net.ErrClosed}
	}
	if s.pending >= s.bufferSize {
		if err := s.send(s.packetSize); err != nil {
			return err
		}
	}
	s.batch = EncodeEvent(s.batch, ev, s.withTS)
	s.pending++
	for s.pending >= s.packetSize {
		if err := s.send(s.packetSize); err != nil {
			return err
		}
	}
	return nil
}

// Flush sends any pending events as one short datagram.
func (s *PacketSink) Flush() error {
	if s.closed || s.pending == 0 {
		return nil
	}
	return s.send(s.pending)
}

// send transmits the first n pending events and drops them from the batch
// only on success.
func (s *PacketSink) send(n int) error {
	size := n * s.stride
	if _, err := s.conn.Write(s.batch[:size]); err != nil {
		return &dvs.TransportError{Op: "send " + s.address, Err: err}
	}
	rest := copy(s.batch, s.batch[size:])
	s.batch = s.batch[:rest]
	s.pending -= n
	s.events += uint64(n)
	s.datagrams++
	return nil
}

// Close releases the socket. Pending events that were not flushed are
// discarded.
func (s *PacketSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pending > 0 {
		monitoring.Logf("packet sink %s: discarding %d unsent events", s.address, s.pending)
	}
	return s.conn.Close()
}

// Pending returns the number of events waiting in the batch.
func (s *PacketSink) Pending() int { return s.pending }

// Sent returns the number of events and datagrams delivered to the socket.
func (s *PacketSink) Sent() (events, datagrams uint64) { return s.events, s.datagrams }

// Stream drains src into the sink and flushes at end of stream. It returns
// the number of events written. The source is not closed.
func (s *PacketSink) Stream(ctx context.Context, src dvs.Source) (int, error) {
	var n int
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read source: %w", err)
		}
		if err := s.Write(ev); err != nil {
			return n, err
		}
		n++
	}
	return n, s.Flush()
}
