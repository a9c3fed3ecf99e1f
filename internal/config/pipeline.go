package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
	"github.com/banshee-data/eventstream/internal/dvs/pipeline"
	"github.com/banshee-data/eventstream/internal/dvs/remap"
	"github.com/banshee-data/eventstream/internal/dvs/serialdvs"
)

// PipelineConfig is the JSON configuration shared by dvsstream and dvsgrid.
// Every field is optional; getters supply defaults for omitted fields and
// command-line flags override whatever the file sets.
type PipelineConfig struct {
	// Sensor frame
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`

	// Remapping
	Calibration    *string `json:"calibration,omitempty"`
	Transform      *string `json:"transform,omitempty"`
	SpatialSample  *int    `json:"s_sample,omitempty"`
	TemporalSample *int    `json:"t_sample,omitempty"`

	// Input
	Input      *string  `json:"input,omitempty"`
	InputPath  *string  `json:"input_path,omitempty"`
	Device     *string  `json:"device,omitempty"`
	PCAPPort   *int     `json:"pcap_port,omitempty"`
	PCAPSpeed  *float64 `json:"pcap_speed,omitempty"`
	Timeout    *string  `json:"timeout,omitempty"` // duration string like "30s"
	MaxEvents  *uint64  `json:"max_events,omitempty"`
	SerialBaud *int     `json:"serial_baud,omitempty"`
	// SerialFormat is the eDVS event format, E0 to E4.
	SerialFormat *string `json:"serial_format,omitempty"`

	// Output
	Output           *string `json:"output,omitempty"`
	UDPAddress       *string `json:"udp_addr,omitempty"`
	UDPPort          *int    `json:"udp_port,omitempty"`
	PacketSize       *int    `json:"packet_size,omitempty"`
	BufferSize       *int    `json:"buffer_size,omitempty"`
	IncludeTimestamp *bool   `json:"include_timestamp,omitempty"`
	GRPCListen       *string `json:"grpc_listen,omitempty"`
	DBPath           *string `json:"db,omitempty"`

	// Grid consumer
	ListenAddress    *string `json:"listen,omitempty"`
	HTTPAddress      *string `json:"http,omitempty"`
	SnapshotInterval *string `json:"snapshot_interval,omitempty"`
	Storage          *string `json:"storage,omitempty"`
	ArchiveEvery     *int    `json:"archive_every,omitempty"`
}

func ptrBool(v bool) *bool          { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// DefaultPipelineConfig returns a config with every field set to its default.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Width:            ptrInt(128),
		Height:           ptrInt(128),
		Calibration:      ptrString(""),
		Transform:        ptrString("no_trans"),
		SpatialSample:    ptrInt(1),
		TemporalSample:   ptrInt(1),
		Input:            ptrString(""),
		InputPath:        ptrString(""),
		Device:           ptrString(""),
		PCAPPort:         ptrInt(0),
		PCAPSpeed:        ptrFloat64(0),
		Timeout:          ptrString("0s"),
		MaxEvents:        ptrUint64(0),
		SerialBaud:       ptrInt(serialdvs.DefaultBaudRate),
		SerialFormat:     ptrString("E4"),
		Output:           ptrString("-"),
		UDPAddress:       ptrString(""),
		UDPPort:          ptrInt(0),
		PacketSize:       ptrInt(128),
		BufferSize:       ptrInt(1024),
		IncludeTimestamp: ptrBool(false),
		GRPCListen:       ptrString(""),
		DBPath:           ptrString(""),
		ListenAddress:    ptrString(":7777"),
		HTTPAddress:      ptrString(":8080"),
		SnapshotInterval: ptrString("1s"),
		Storage:          ptrString("host"),
		ArchiveEvery:     ptrInt(0),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The file must
// have a .json extension and be under 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PipelineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *PipelineConfig) Validate() error {
	if c.Width != nil && *c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", *c.Height)
	}
	if c.Transform != nil {
		if _, err := remap.ParseTransform(*c.Transform); err != nil {
			return err
		}
	}
	if c.SpatialSample != nil && *c.SpatialSample < 1 {
		return fmt.Errorf("s_sample must be at least 1, got %d", *c.SpatialSample)
	}
	if c.TemporalSample != nil && *c.TemporalSample < 1 {
		return fmt.Errorf("t_sample must be at least 1, got %d", *c.TemporalSample)
	}
	if c.Input != nil && *c.Input != "" {
		if _, err := pipeline.ParseInputKind(*c.Input); err != nil {
			return err
		}
	}
	if c.PCAPSpeed != nil && *c.PCAPSpeed < 0 {
		return fmt.Errorf("pcap_speed must be non-negative, got %f", *c.PCAPSpeed)
	}
	if c.SerialFormat != nil && *c.SerialFormat != "" {
		if _, err := serialdvs.ParseFormat(*c.SerialFormat); err != nil {
			return err
		}
	}
	if c.UDPPort != nil && (*c.UDPPort < 0 || *c.UDPPort > 65535) {
		return fmt.Errorf("udp_port must be between 0 and 65535, got %d", *c.UDPPort)
	}
	if c.PacketSize != nil && *c.PacketSize <= 0 {
		return fmt.Errorf("packet_size must be positive, got %d", *c.PacketSize)
	}
	if c.GetBufferSize() < c.GetPacketSize() {
		return fmt.Errorf("buffer_size %d is smaller than packet_size %d", c.GetBufferSize(), c.GetPacketSize())
	}
	if c.Storage != nil && *c.Storage != "" {
		if _, err := accumulator.StorageByName(*c.Storage); err != nil {
			return err
		}
	}
	if c.ArchiveEvery != nil && *c.ArchiveEvery < 0 {
		return fmt.Errorf("archive_every must be non-negative, got %d", *c.ArchiveEvery)
	}
	for name, d := range map[string]*string{"timeout": c.Timeout, "snapshot_interval": c.SnapshotInterval} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
			}
		}
	}
	return nil
}

// GetWidth returns the sensor width or the default.
func (c *PipelineConfig) GetWidth() int {
	if c.Width == nil {
		return 128
	}
	return *c.Width
}

// GetHeight returns the sensor height or the default.
func (c *PipelineConfig) GetHeight() int {
	if c.Height == nil {
		return 128
	}
	return *c.Height
}

func (c *PipelineConfig) GetCalibration() string { return stringOr(c.Calibration, "") }

func (c *PipelineConfig) GetTransform() string { return stringOr(c.Transform, "no_trans") }

// GetSpatialSample returns s_sample or the default of 1.
func (c *PipelineConfig) GetSpatialSample() int {
	if c.SpatialSample == nil {
		return 1
	}
	return *c.SpatialSample
}

// GetTemporalSample returns t_sample or the default of 1.
func (c *PipelineConfig) GetTemporalSample() int {
	if c.TemporalSample == nil {
		return 1
	}
	return *c.TemporalSample
}

func (c *PipelineConfig) GetInput() string     { return stringOr(c.Input, "") }
func (c *PipelineConfig) GetInputPath() string { return stringOr(c.InputPath, "") }
func (c *PipelineConfig) GetDevice() string    { return stringOr(c.Device, "") }

func (c *PipelineConfig) GetPCAPPort() int {
	if c.PCAPPort == nil {
		return 0
	}
	return *c.PCAPPort
}

func (c *PipelineConfig) GetPCAPSpeed() float64 {
	if c.PCAPSpeed == nil {
		return 0
	}
	return *c.PCAPSpeed
}

// GetTimeout parses Timeout. Zero means no limit.
func (c *PipelineConfig) GetTimeout() time.Duration {
	return durationOr(c.Timeout, 0)
}

func (c *PipelineConfig) GetMaxEvents() uint64 {
	if c.MaxEvents == nil {
		return 0
	}
	return *c.MaxEvents
}

func (c *PipelineConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return serialdvs.DefaultBaudRate
	}
	return *c.SerialBaud
}

func (c *PipelineConfig) GetSerialFormat() string { return stringOr(c.SerialFormat, "E4") }

func (c *PipelineConfig) GetOutput() string     { return stringOr(c.Output, "-") }
func (c *PipelineConfig) GetUDPAddress() string { return stringOr(c.UDPAddress, "") }

func (c *PipelineConfig) GetUDPPort() int {
	if c.UDPPort == nil {
		return 0
	}
	return *c.UDPPort
}

// GetPacketSize returns events per datagram or the default of 128.
func (c *PipelineConfig) GetPacketSize() int {
	if c.PacketSize == nil {
		return 128
	}
	return *c.PacketSize
}

// GetBufferSize returns the sink batch capacity or the default of 1024.
func (c *PipelineConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 1024
	}
	return *c.BufferSize
}

func (c *PipelineConfig) GetIncludeTimestamp() bool {
	if c.IncludeTimestamp == nil {
		return false
	}
	return *c.IncludeTimestamp
}

func (c *PipelineConfig) GetGRPCListen() string    { return stringOr(c.GRPCListen, "") }
func (c *PipelineConfig) GetDBPath() string        { return stringOr(c.DBPath, "") }
func (c *PipelineConfig) GetListenAddress() string { return stringOr(c.ListenAddress, ":7777") }
func (c *PipelineConfig) GetHTTPAddress() string   { return stringOr(c.HTTPAddress, ":8080") }

// GetSnapshotInterval parses SnapshotInterval, defaulting to one second.
func (c *PipelineConfig) GetSnapshotInterval() time.Duration {
	return durationOr(c.SnapshotInterval, time.Second)
}

func (c *PipelineConfig) GetStorage() string { return stringOr(c.Storage, "host") }

// GetArchiveEvery returns how many snapshots pass between archived ones.
// Zero disables archiving.
func (c *PipelineConfig) GetArchiveEvery() int {
	if c.ArchiveEvery == nil {
		return 0
	}
	return *c.ArchiveEvery
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}
