package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/monitoring"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

// PCAPConfig selects which captured datagrams are replayed.
type PCAPConfig struct {
	// Port keeps only UDP datagrams sent to this port; zero keeps all.
	Port             int
	IncludeTimestamp bool
	// Speed paces replay against capture timestamps (1 = real time).
	// Zero replays as fast as possible.
	Speed float64
	Clock timeutil.Clock
}

// PCAPSource replays event datagrams from a packet capture.
type PCAPSource struct {
	data      gopacket.PacketDataSource
	decoder   gopacket.Decoder
	closer    func() error
	isTimeout func(error) bool

	port   int
	withTS bool
	speed  float64
	clock  timeutil.Clock

	firstCapture time.Time
	firstWall    time.Time

	pending []dvs.Event
	eof     bool
	packets int
	skipped int
}

const pcapngMagic = 0x0A0D0D0A

// OpenPCAP opens a pcap or pcapng file.
func OpenPCAP(path string, cfg PCAPConfig) (*PCAPSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	src, err := NewPCAPSource(f, cfg)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read capture %s: %w", path, err)
	}
	src.closer = f.Close
	return src, nil
}

// NewPCAPSource reads a capture from r. The format (pcap or pcapng) is
// detected from the first block.
func NewPCAPSource(r io.Reader, cfg PCAPConfig) (*PCAPSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("capture header: %w", err)
	}

	var (
		data     gopacket.PacketDataSource
		linkType layers.LinkType
	)
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		data, linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, err
		}
		data, linkType = pr, pr.LinkType()
	}
	return newCaptureSource(data, linkType, cfg), nil
}

func newCaptureSource(data gopacket.PacketDataSource, decoder gopacket.Decoder, cfg PCAPConfig) *PCAPSource {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &PCAPSource{
		data:    data,
		decoder: decoder,
		port:    cfg.Port,
		withTS:  cfg.IncludeTimestamp,
		speed:   cfg.Speed,
		clock:   cfg.Clock,
	}
}

// Next returns the next event from the capture.
func (s *PCAPSource) Next(ctx context.Context) (dvs.Event, error) {
	for {
		if s.eof {
			return dvs.Event{}, io.EOF
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if ctx.Err() != nil {
			s.eof = true
			continue
		}

		payload, ci, err := s.data.ReadPacketData()
		if err != nil {
			if s.isTimeout != nil && s.isTimeout(err) {
				continue
			}
			s.eof = true
			if errors.Is(err, io.EOF) {
				monitoring.Logf("capture replay complete: %d packets, %d skipped", s.packets, s.skipped)
				continue
			}
			return dvs.Event{}, &dvs.TransportError{Op: "read capture", Err: err}
		}
		s.packets++

		events, ok := s.decode(payload)
		if !ok {
			s.skipped++
			continue
		}
		if !s.pace(ctx, ci.Timestamp) {
			s.eof = true
			continue
		}
		s.pending = events
	}
}

// decode extracts the event datagram from one captured frame.
func (s *PCAPSource) decode(frame []byte) ([]dvs.Event, bool) {
	packet := gopacket.NewPacket(frame, s.decoder, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, false
	}
	if s.port != 0 && int(udp.DstPort) != s.port {
		return nil, false
	}
	events, err := DecodeDatagram(udp.Payload, s.withTS, nil)
	if err != nil || len(events) == 0 {
		return nil, false
	}
	return events, true
}

// pace waits until captured is due on the replay timeline. It reports false
// when ctx ends first.
func (s *PCAPSource) pace(ctx context.Context, captured time.Time) bool {
	if s.speed <= 0 || captured.IsZero() {
		return true
	}
	if s.firstCapture.IsZero() {
		s.firstCapture = captured
		s.firstWall = s.clock.Now()
		return true
	}
	offset := time.Duration(float64(captured.Sub(s.firstCapture)) / s.speed)
	wait := s.clock.Until(s.firstWall.Add(offset))
	if wait <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(wait):
		return true
	}
}

// Stats returns the number of captured frames read and skipped.
func (s *PCAPSource) Stats() (packets, skipped int) { return s.packets, s.skipped }

// Close releases the capture.
func (s *PCAPSource) Close() error {
	s.eof = true
	if s.closer == nil {
		return nil
	}
	closer := s.closer
	s.closer = nil
	return closer()
}
