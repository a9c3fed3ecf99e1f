package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/dvs/eventfile"
	"github.com/banshee-data/eventstream/internal/dvs/grpcstream"
	"github.com/banshee-data/eventstream/internal/dvs/network"
	"github.com/banshee-data/eventstream/internal/dvs/serialdvs"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

// InputKind selects where events come from.
type InputKind string

const (
	InputFile   InputKind = "file"
	InputPCAP   InputKind = "pcap"
	InputUDP    InputKind = "udp"
	InputSerial InputKind = "serial"
	InputGRPC   InputKind = "grpc"
	InputLive   InputKind = "live"
	InputDB     InputKind = "db"
)

// InputKinds lists the accepted input selections.
func InputKinds() []InputKind {
	return []InputKind{InputFile, InputPCAP, InputUDP, InputSerial, InputGRPC, InputLive, InputDB}
}

// ParseInputKind resolves a -input value.
func ParseInputKind(s string) (InputKind, error) {
	k := InputKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range InputKinds() {
		if k == known {
			return k, nil
		}
	}
	if k == "" {
		return "", dvs.Configf("input", "no input selected")
	}
	return "", dvs.Configf("input", "unknown input %q", s)
}

// InputConfig describes one event source.
type InputConfig struct {
	Kind InputKind
	// Path is the recording, capture, database or serial device. For udp
	// and grpc it is the listen address or target.
	Path string
	// Device is the capture interface for live input.
	Device string
	// Port filters pcap and live captures by UDP destination port.
	Port             int
	IncludeTimestamp bool
	// Speed paces pcap replay; zero replays as fast as possible.
	Speed float64
	// TimeLimit ends device and network streams after a wall-clock duration.
	TimeLimit time.Duration
	Serial    serialdvs.PortOptions
	Format    serialdvs.Format
	// RunID selects the stored run for db input.
	RunID string
	// Stream names the subscription for grpc input.
	Stream string
	Clock  timeutil.Clock

	// Test hooks.
	SocketFactory network.UDPSocketFactory
	SerialOpener  serialdvs.Opener
}

// OpenSource opens the source cfg describes. Construction errors are
// returned before any event is read.
func OpenSource(ctx context.Context, cfg InputConfig) (dvs.Source, error) {
	switch cfg.Kind {
	case InputFile:
		return eventfile.OpenSource(cfg.Path)

	case InputPCAP:
		if cfg.Path == "" {
			return nil, dvs.Configf("pcap", "capture file path is required")
		}
		return network.OpenPCAP(cfg.Path, network.PCAPConfig{
			Port:             cfg.Port,
			IncludeTimestamp: cfg.IncludeTimestamp,
			Speed:            cfg.Speed,
			Clock:            cfg.Clock,
		})

	case InputLive:
		if cfg.Device == "" {
			return nil, dvs.Configf("live", "capture interface is required")
		}
		return network.OpenLiveCapture(cfg.Device, network.PCAPConfig{
			Port:             cfg.Port,
			IncludeTimestamp: cfg.IncludeTimestamp,
		})

	case InputUDP:
		return network.NewUDPSource(network.UDPSourceConfig{
			Address:          cfg.Path,
			IncludeTimestamp: cfg.IncludeTimestamp,
			TimeLimit:        cfg.TimeLimit,
			Clock:            cfg.Clock,
			SocketFactory:    cfg.SocketFactory,
		})

	case InputSerial:
		return serialdvs.Open(serialdvs.Config{
			Path:      cfg.Path,
			Options:   cfg.Serial,
			Format:    cfg.Format,
			TimeLimit: cfg.TimeLimit,
			Clock:     cfg.Clock,
			Opener:    cfg.SerialOpener,
		})

	case InputGRPC:
		if cfg.Path == "" {
			return nil, dvs.Configf("grpc", "publisher address is required")
		}
		conn, err := grpcstream.Dial(cfg.Path)
		if err != nil {
			return nil, &dvs.TransportError{Op: "dial " + cfg.Path, Err: err}
		}
		sub, err := grpcstream.Subscribe(ctx, conn, cfg.Stream)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &closingSource{Source: sub, closer: conn}, nil

	case InputDB:
		if cfg.RunID == "" {
			return nil, dvs.Configf("run_id", "db input needs a run id")
		}
		st, err := openStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		if _, err := st.GetRun(ctx, cfg.RunID); err != nil {
			st.Close()
			if errors.Is(err, store.ErrRunNotFound) {
				return nil, dvs.Configf("run_id", "%v", err)
			}
			return nil, err
		}
		return &closingSource{Source: st.NewEventSource(cfg.RunID), closer: st}, nil
	}

	if _, err := ParseInputKind(string(cfg.Kind)); err != nil {
		return nil, err
	}
	return nil, dvs.Configf("input", "unhandled input %q", cfg.Kind)
}

// OutputConfig describes one event sink. A UDP address takes precedence,
// then a gRPC listen address, then the output path.
type OutputConfig struct {
	Path string

	UDPAddress       string
	UDPPort          int
	PacketSize       int
	BufferSize       int
	IncludeTimestamp bool

	// GRPCListen publishes the stream to gRPC subscribers.
	GRPCListen string

	// Polarity adds a polarity column to text output.
	Polarity bool
	// Width and Height are the output frame, recorded in containers.
	Width, Height int
	// RunID keys stored events for .db output.
	RunID string

	// Test hook.
	Dialer network.Dialer
}

// OpenSink creates the sink cfg describes.
func OpenSink(cfg OutputConfig) (dvs.Sink, error) {
	if cfg.UDPAddress != "" {
		return network.NewPacketSink(network.PacketSinkConfig{
			Address:          cfg.UDPAddress,
			Port:             cfg.UDPPort,
			PacketSize:       cfg.PacketSize,
			BufferSize:       cfg.BufferSize,
			IncludeTimestamp: cfg.IncludeTimestamp,
			Dialer:           cfg.Dialer,
		})
	}

	if cfg.GRPCListen != "" {
		pcfg := grpcstream.DefaultConfig()
		pcfg.ListenAddr = cfg.GRPCListen
		pub, err := grpcstream.NewPublisher(pcfg)
		if err != nil {
			return nil, err
		}
		if err := pub.Start(); err != nil {
			pub.Close()
			return nil, err
		}
		return pub, nil
	}

	kind, err := eventfile.KindForPath(cfg.Path)
	if err != nil {
		return nil, err
	}
	if kind == eventfile.KindSQLite {
		if cfg.RunID == "" {
			return nil, dvs.Configf("run_id", "db output needs a run id")
		}
		st, err := openStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		// Sequence numbers restart per sink, so a run is written once.
		n, err := st.CountEvents(context.Background(), cfg.RunID)
		if err != nil {
			st.Close()
			return nil, &dvs.TransportError{Op: "check run " + cfg.RunID, Err: err}
		}
		if n > 0 {
			st.Close()
			return nil, dvs.Configf("run_id", "run %s already has %d stored events in %s", cfg.RunID, n, cfg.Path)
		}
		return &closingSink{Sink: st.NewEventSink(cfg.RunID, 0), closer: st}, nil
	}
	return eventfile.OpenSink(cfg.Path, eventfile.SinkOptions{
		Polarity: cfg.Polarity,
		Header:   eventfile.ContainerHeader{Width: uint16(cfg.Width), Height: uint16(cfg.Height)},
	})
}

// Describe renders an endpoint for the run ledger.
func (c InputConfig) Describe() string {
	switch c.Kind {
	case InputLive:
		return fmt.Sprintf("live:%s", c.Device)
	case InputDB:
		return fmt.Sprintf("db:%s#%s", c.Path, c.RunID)
	}
	return fmt.Sprintf("%s:%s", c.Kind, c.Path)
}

// Describe renders an endpoint for the run ledger.
func (c OutputConfig) Describe() string {
	switch {
	case c.UDPAddress != "":
		return "udp:" + net.JoinHostPort(c.UDPAddress, strconv.Itoa(c.UDPPort))
	case c.GRPCListen != "":
		return "grpc:" + c.GRPCListen
	case c.Path == "" || c.Path == "-":
		return "stdout"
	}
	return "file:" + c.Path
}

func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, dvs.Configf("db", "database path is required")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, &dvs.TransportError{Op: "open " + path, Err: err}
	}
	return st, nil
}

// closingSource closes an owned resource after the source.
type closingSource struct {
	dvs.Source
	closer io.Closer
}

func (s *closingSource) Close() error {
	return errors.Join(s.Source.Close(), s.closer.Close())
}

type closingSink struct {
	dvs.Sink
	closer io.Closer
}

func (s *closingSink) Close() error {
	return errors.Join(s.Sink.Close(), s.closer.Close())
}
