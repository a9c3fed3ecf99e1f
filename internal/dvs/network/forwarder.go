package network

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/eventstream/internal/monitoring"
)

// DropCounter records datagrams the forwarder had to discard.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder mirrors received datagrams to another address without
// blocking the receive loop.
type PacketForwarder struct {
	conn        UDPWriter
	channel     chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string
	closeOnce   sync.Once
}

// NewPacketForwarder dials address with dial (DialUDP when nil). queue is the
// number of datagrams buffered before new ones are dropped.
func NewPacketForwarder(address string, dial Dialer, queue int, stats DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	if dial == nil {
		dial = DialUDP
	}
	if queue <= 0 {
		queue = 1000
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	conn, err := dial(address)
	if err != nil {
		return nil, err
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, queue),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
	}, nil
}

// Start runs the send loop until ctx is done. Write failures are counted and
// reported once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 {
					monitoring.Logf("forwarder %s: %d datagrams failed (latest: %v)", f.address, failed, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()
	monitoring.Logf("forwarding datagrams to %s", f.address)
}

// ForwardAsync queues a copy of packet. A full queue drops it.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	cp := append([]byte(nil), packet...)
	select {
	case f.channel <- cp:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close stops accepting datagrams and closes the socket.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.channel)
		err = f.conn.Close()
	})
	return err
}
