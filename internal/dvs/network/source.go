package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/monitoring"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

// UDPSourceConfig configures a UDPSource.
type UDPSourceConfig struct {
	Address          string
	IncludeTimestamp bool
	// QueueSize is the number of decoded datagrams buffered ahead of Next.
	QueueSize int
	// TimeLimit ends the stream after the given wall-clock duration.
	TimeLimit     time.Duration
	Clock         timeutil.Clock
	SocketFactory UDPSocketFactory
}

// UDPSource subscribes to event datagrams sent by a PacketSink. A reader
// goroutine decodes datagrams into a bounded queue consumed by Next.
type UDPSource struct {
	conn    UDPSocket
	withTS  bool
	batches chan []dvs.Event
	cancel  context.CancelFunc
	done    chan struct{}

	readErr error // written by the reader before batches is closed

	queue *dvs.BatchQueue
	once  sync.Once
}

// NewUDPSource binds the socket and starts the reader.
func NewUDPSource(cfg UDPSourceConfig) (*UDPSource, error) {
	if cfg.Address == "" {
		return nil, dvs.Configf("address", "listen address is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.SocketFactory == nil {
		cfg.SocketFactory = RealUDPSocketFactory{}
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, dvs.Configf("address", "resolve %q: %v", cfg.Address, err)
	}
	conn, err := cfg.SocketFactory.ListenUDP("udp", addr)
	if err != nil {
		return nil, &dvs.TransportError{Op: "listen " + cfg.Address, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &UDPSource{
		conn:    conn,
		withTS:  cfg.IncludeTimestamp,
		batches: make(chan []dvs.Event, cfg.QueueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	var limit <-chan time.Time
	if cfg.TimeLimit > 0 {
		limit = cfg.Clock.After(cfg.TimeLimit)
	}
	s.queue = dvs.NewBatchQueue(s.batches, limit, func() error { return s.readErr })
	go s.read(ctx)
	return s, nil
}

// LocalAddr is the bound address.
func (s *UDPSource) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *UDPSource) read(ctx context.Context) {
	defer close(s.done)
	defer close(s.batches)

	buffer := make([]byte, MaxDatagramBytes)
	for ctx.Err() == nil {
		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() == nil {
				s.readErr = &dvs.TransportError{Op: "read", Err: err}
			}
			return
		}
		events, err := DecodeDatagram(buffer[:n], s.withTS, nil)
		if err != nil {
			monitoring.Debugf("dropping datagram from %v: %v", from, err)
			continue
		}
		if len(events) == 0 {
			continue
		}
		select {
		case s.batches <- events:
		case <-ctx.Done():
			return
		}
	}
}

// Next returns the next received event. A read failure on the socket is
// returned once; after that, and after cancellation or the time limit, Next
// returns io.EOF.
func (s *UDPSource) Next(ctx context.Context) (dvs.Event, error) {
	return s.queue.Next(ctx)
}

// Close stops the reader and releases the socket.
func (s *UDPSource) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.queue.Stop()
		err = s.conn.Close()
	})
	return err
}
