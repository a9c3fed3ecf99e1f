package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/monitoring"
)

// PayloadSink receives decoded datagrams. *accumulator.Accumulator
// implements it.
type PayloadSink interface {
	AddPayload(payload []byte) int
	AddEvents(events []dvs.Event)
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Address string
	// RcvBuf is the socket receive buffer in bytes; zero keeps the OS default.
	RcvBuf      int
	LogInterval time.Duration
	// IncludeTimestamp must match the sender's framing.
	IncludeTimestamp bool
	Sink             PayloadSink
	Stats            *PacketStats
	Forwarder        *PacketForwarder
	SocketFactory    UDPSocketFactory
}

// Listener receives event datagrams and feeds them to a PayloadSink. It is
// the producer half of the accumulator's producer/consumer pair.
type Listener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	withTS      bool
	sink        PayloadSink
	stats       *PacketStats
	forwarder   *PacketForwarder
	factory     UDPSocketFactory

	scratch []dvs.Event
}

// NewListener returns a Listener. Sink is required.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Sink == nil {
		return nil, dvs.Configf("sink", "listener needs a payload sink")
	}
	if cfg.Address == "" {
		return nil, dvs.Configf("address", "listen address is required")
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Stats == nil {
		cfg.Stats = NewPacketStats(nil)
	}
	if cfg.SocketFactory == nil {
		cfg.SocketFactory = RealUDPSocketFactory{}
	}
	return &Listener{
		address:     cfg.Address,
		rcvBuf:      cfg.RcvBuf,
		logInterval: cfg.LogInterval,
		withTS:      cfg.IncludeTimestamp,
		sink:        cfg.Sink,
		stats:       cfg.Stats,
		forwarder:   cfg.Forwarder,
		factory:     cfg.SocketFactory,
	}, nil
}

// Stats returns the listener's counters.
func (l *Listener) Stats() *PacketStats { return l.stats }

// Run receives until ctx is done and then returns ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return dvs.Configf("address", "resolve %q: %v", l.address, err)
	}
	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return &dvs.TransportError{Op: "listen " + l.address, Err: err}
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("warning: failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("event listener started on %s", conn.LocalAddr())

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.logStats(ctx)

	buffer := make([]byte, MaxDatagramBytes)
	readErrors := 0
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("event listener stopping")
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return &dvs.TransportError{Op: "read", Err: err}
			}
			readErrors++
			if readErrors == 1 || readErrors%100 == 0 {
				monitoring.Logf("udp read error (%d in a row): %v", readErrors, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff(readErrors)):
			}
			continue
		}
		readErrors = 0
		if err := l.HandleDatagram(buffer[:n]); err != nil {
			monitoring.Debugf("dropping datagram from %v: %v", from, err)
		}
	}
}

// readBackoff is the pause after the nth consecutive read error: 10ms
// doubling up to one second.
func readBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 8 {
		return time.Second
	}
	return min(10*time.Millisecond<<(n-1), time.Second)
}

// HandleDatagram decodes one datagram into the sink.
func (l *Listener) HandleDatagram(packet []byte) error {
	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}
	if len(packet)%EventBytes(l.withTS) != 0 {
		l.stats.AddMalformed()
		return fmt.Errorf("datagram length %d is not a whole number of events", len(packet))
	}
	if !l.withTS {
		// Untimed wire words share the accumulator payload layout.
		n := l.sink.AddPayload(packet)
		l.stats.AddPacket(len(packet), n)
		return nil
	}
	events, err := DecodeDatagram(packet, true, l.scratch[:0])
	if err != nil {
		l.stats.AddMalformed()
		return err
	}
	l.scratch = events
	l.sink.AddEvents(events)
	l.stats.AddPacket(len(packet), len(events))
	return nil
}

func (l *Listener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}
