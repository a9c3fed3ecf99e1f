package serialdvs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/monitoring"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

// Config selects and configures an eDVS device.
type Config struct {
	Path    string
	Options PortOptions
	Format  Format
	// TimeLimit ends the stream after the given wall-clock duration.
	TimeLimit time.Duration
	// QueueSize is the number of decoded read chunks buffered ahead of Next.
	QueueSize int
	Clock     timeutil.Clock
	Opener    Opener
}

// Source streams events from an eDVS sensor on a serial line. A reader
// goroutine decodes the byte stream into a bounded queue consumed by Next.
type Source struct {
	port    Port
	dec     *Decoder
	batches chan []dvs.Event
	cancel  context.CancelFunc
	done    chan struct{}

	readErr error // written by the reader before batches is closed

	queue *dvs.BatchQueue
	once  sync.Once
}

// Open opens the device, selects the event format and starts streaming.
func Open(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, dvs.Configf("serial_path", "serial device path is required")
	}
	if cfg.Format.timestampBytes() == 0 && cfg.Format != FormatE0 {
		return nil, dvs.Configf("format", "unsupported eDVS event format %d", int(cfg.Format))
	}
	mode, err := cfg.Options.SerialMode()
	if err != nil {
		return nil, &dvs.ConfigurationError{Field: "serial_options", Err: err}
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenSerial
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	port, err := cfg.Opener(cfg.Path, mode)
	if err != nil {
		return nil, &dvs.TransportError{Op: "open " + cfg.Path, Err: err}
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, &dvs.TransportError{Op: "set read timeout", Err: err}
	}
	if err := sendCommands(port, fmt.Sprintf("!%s", cfg.Format), "E+"); err != nil {
		port.Close()
		return nil, err
	}
	monitoring.Logf("eDVS streaming from %s at %d baud, format %s", cfg.Path, mode.BaudRate, cfg.Format)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		port:    port,
		dec:     NewDecoder(cfg.Format, cfg.Clock),
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

func sendCommands(port Port, commands ...string) error {
	for _, c := range commands {
		if _, err := io.WriteString(port, c+"\n"); err != nil {
			return &dvs.TransportError{Op: "command " + c, Err: err}
		}
	}
	return nil
}

func (s *Source) read(ctx context.Context) {
	defer close(s.done)
	defer close(s.batches)

	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, err := s.port.Read(buf)
		if n > 0 {
			events := s.dec.Feed(buf[:n], nil)
			if len(events) > 0 {
				select {
				case s.batches <- events:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.readErr = &dvs.TransportError{Op: "read", Err: err}
			}
			return
		}
	}
}

// Next returns the next decoded event. A read failure is returned once;
// after that, and after cancellation or the time limit, Next returns io.EOF.
func (s *Source) Next(ctx context.Context) (dvs.Event, error) {
	return s.queue.Next(ctx)
}

// Close stops the device stream and releases the port.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.queue.Stop()
		if resync := s.dec.Resynced(); resync > 0 {
			monitoring.Logf("eDVS decoder skipped %d bytes to resynchronise", resync)
		}
		if cerr := sendCommands(s.port, "E-"); cerr != nil {
			monitoring.Logf("eDVS stop command failed: %v", cerr)
		}
		err = s.port.Close()
	})
	return err
}
