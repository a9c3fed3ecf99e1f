package main

import (
	"flag"
	"io"
	"time"

	"github.com/banshee-data/eventstream/internal/config"
)

type options struct {
	configPath  string
	forwardAddr string
	rcvBuf      int
	logInterval time.Duration
	runID       string
	verbose     bool
	version     bool

	flags *flag.FlagSet
	cfg   config.PipelineConfig
}

func newFlagSet(output io.Writer) *options {
	o := &options{flags: flag.NewFlagSet("dvsgrid", flag.ContinueOnError)}
	fs := o.flags
	fs.SetOutput(output)
	d := config.DefaultPipelineConfig()

	fs.StringVar(&o.configPath, "config", "", "JSON pipeline configuration; explicit flags override it")
	fs.StringVar(&o.forwardAddr, "forward-addr", "", "Mirror received datagrams to this host:port")
	fs.IntVar(&o.rcvBuf, "rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	fs.DurationVar(&o.logInterval, "log-interval", 2*time.Second, "Statistics logging interval")
	fs.StringVar(&o.runID, "run-id", "", "Archive snapshots under this run ID; generated when empty")
	fs.BoolVar(&o.verbose, "v", false, "Verbose logging")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")

	o.cfg.ListenAddress = fs.String("listen", *d.ListenAddress, "UDP address to receive event datagrams on")
	o.cfg.HTTPAddress = fs.String("http", *d.HTTPAddress, "HTTP monitor listen address")
	o.cfg.Width = fs.Int("width", *d.Width, "Grid width in pixels")
	o.cfg.Height = fs.Int("height", *d.Height, "Grid height in pixels")
	o.cfg.Storage = fs.String("storage", *d.Storage, "Counter storage: host|matrix")
	o.cfg.SnapshotInterval = fs.String("snapshot-interval", *d.SnapshotInterval, "Read the accumulator this often")
	o.cfg.IncludeTimestamp = fs.Bool("include-timestamp", *d.IncludeTimestamp, "Datagrams carry a 32-bit timestamp per event")
	o.cfg.DBPath = fs.String("db", *d.DBPath, "SQLite database for the run ledger and snapshot archive")
	o.cfg.ArchiveEvery = fs.Int("archive-every", *d.ArchiveEvery, "Archive every Nth snapshot (0 = never)")
	return o
}

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
		case "listen":
			cfg.ListenAddress = o.cfg.ListenAddress
		case "http":
			cfg.HTTPAddress = o.cfg.HTTPAddress
		case "width":
			cfg.Width = o.cfg.Width
		case "height":
			cfg.Height = o.cfg.Height
		case "storage":
			cfg.Storage = o.cfg.Storage
		case "snapshot-interval":
			cfg.SnapshotInterval = o.cfg.SnapshotInterval
		case "include-timestamp":
			cfg.IncludeTimestamp = o.cfg.IncludeTimestamp
		case "db":
			cfg.DBPath = o.cfg.DBPath
		case "archive-every":
			cfg.ArchiveEvery = o.cfg.ArchiveEvery
		}
	})
	return cfg, cfg.Validate()
}
