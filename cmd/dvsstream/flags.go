package main

import (
	"flag"
	"io"

	"github.com/banshee-data/eventstream/internal/config"
)

// options holds the parsed command line. Flag defaults match the config
// getters so an unset flag never overrides a value from -config.
type options struct {
	configPath string
	source     string
	runID      string
	polarity   bool
	verbose    bool
	version    bool

	flags *flag.FlagSet
	cfg   config.PipelineConfig
}

func newFlagSet(output io.Writer) *options {
	o := &options{flags: flag.NewFlagSet("dvsstream", flag.ContinueOnError)}
	fs := o.flags
	fs.SetOutput(output)
	d := config.DefaultPipelineConfig()

	fs.StringVar(&o.configPath, "config", "", "JSON pipeline configuration; explicit flags override it")
	fs.StringVar(&o.source, "source", "", "Input path, address or serial device (interface for -input live)")
	fs.StringVar(&o.runID, "run-id", "", "Run to replay for -input db; generated for new runs when empty")
	fs.BoolVar(&o.polarity, "polarity", false, "Write a polarity column to text output")
	fs.BoolVar(&o.verbose, "v", false, "Verbose logging")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")

	o.cfg.Input = fs.String("input", *d.Input, "Input kind: file|pcap|udp|serial|grpc|live|db")
	o.cfg.Width = fs.Int("width", *d.Width, "Sensor width in pixels")
	o.cfg.Height = fs.Int("height", *d.Height, "Sensor height in pixels")
	o.cfg.Calibration = fs.String("calibration", *d.Calibration, "Undistortion lookup table CSV")
	o.cfg.Transform = fs.String("transform", *d.Transform, "Frame transform: no_trans|rot_90|rot_180|rot_270|flip_ud|flip_lr")
	o.cfg.SpatialSample = fs.Int("s-sample", *d.SpatialSample, "Spatial subsampling factor")
	o.cfg.TemporalSample = fs.Int("t-sample", *d.TemporalSample, "Forward one of every N remapped events")
	o.cfg.Output = fs.String("output", *d.Output, "Output file (.txt, .csv, .evz, .db) or - for stdout")
	o.cfg.UDPAddress = fs.String("udp-addr", *d.UDPAddress, "Send events as UDP datagrams to this host")
	o.cfg.UDPPort = fs.Int("udp-port", *d.UDPPort, "Destination UDP port")
	o.cfg.PacketSize = fs.Int("packet-size", *d.PacketSize, "Events per UDP datagram")
	o.cfg.BufferSize = fs.Int("buffer-size", *d.BufferSize, "Events buffered by the UDP sink")
	o.cfg.IncludeTimestamp = fs.Bool("include-timestamp", *d.IncludeTimestamp, "Append a 32-bit timestamp to every UDP event")
	o.cfg.GRPCListen = fs.String("grpc-listen", *d.GRPCListen, "Publish events to gRPC subscribers on this address")
	o.cfg.MaxEvents = fs.Uint64("max-events", *d.MaxEvents, "Stop after N input events (0 = unlimited)")
	o.cfg.Timeout = fs.String("timeout", *d.Timeout, "Stop device and network inputs after this duration")
	o.cfg.DBPath = fs.String("db", *d.DBPath, "Record runs in this SQLite database")
	o.cfg.PCAPPort = fs.Int("pcap-port", *d.PCAPPort, "Replay only datagrams sent to this UDP port")
	o.cfg.PCAPSpeed = fs.Float64("pcap-speed", *d.PCAPSpeed, "Replay speed against capture time (0 = as fast as possible)")
	o.cfg.SerialBaud = fs.Int("serial-baud", *d.SerialBaud, "eDVS serial baud rate")
	o.cfg.SerialFormat = fs.String("serial-format", *d.SerialFormat, "eDVS event format E0|E2|E3|E4")
	return o
}

// parse reads args and, when -config is given, layers the file underneath
// the flags that were set explicitly.
func (o *options) parse(args []string) (*config.PipelineConfig, error) {
	if err := o.flags.Parse(args); err != nil {
		return nil, err
	}
	if o.configPath == "" {
		cfg := o.cfg
		return &cfg, cfg.Validate()
	}

	cfg, err := config.LoadPipelineConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	o.flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input = o.cfg.Input
		case "width":
			cfg.Width = o.cfg.Width
		case "height":
			cfg.Height = o.cfg.Height
		case "calibration":
			cfg.Calibration = o.cfg.Calibration
		case "transform":
			cfg.Transform = o.cfg.Transform
		case "s-sample":
			cfg.SpatialSample = o.cfg.SpatialSample
		case "t-sample":
			cfg.TemporalSample = o.cfg.TemporalSample
		case "output":
			cfg.Output = o.cfg.Output
		case "udp-addr":
			cfg.UDPAddress = o.cfg.UDPAddress
		case "udp-port":
			cfg.UDPPort = o.cfg.UDPPort
		case "packet-size":
			cfg.PacketSize = o.cfg.PacketSize
		case "buffer-size":
			cfg.BufferSize = o.cfg.BufferSize
		case "include-timestamp":
			cfg.IncludeTimestamp = o.cfg.IncludeTimestamp
		case "grpc-listen":
			cfg.GRPCListen = o.cfg.GRPCListen
		case "max-events":
			cfg.MaxEvents = o.cfg.MaxEvents
		case "timeout":
			cfg.Timeout = o.cfg.Timeout
		case "db":
			cfg.DBPath = o.cfg.DBPath
		case "pcap-port":
			cfg.PCAPPort = o.cfg.PCAPPort
		case "pcap-speed":
			cfg.PCAPSpeed = o.cfg.PCAPSpeed
		case "serial-baud":
			cfg.SerialBaud = o.cfg.SerialBaud
		case "serial-format":
			cfg.SerialFormat = o.cfg.SerialFormat
		}
	})
	if o.source == "" {
		o.source = cfg.GetInputPath()
	}
	return cfg, cfg.Validate()
}
