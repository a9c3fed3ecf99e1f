// Command dvsstream reads an event stream, remaps it and writes it to a
// file, stdout, UDP datagrams or gRPC subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/eventstream/internal/config"
	"github.com/banshee-data/eventstream/internal/dvs/pipeline"
	"github.com/banshee-data/eventstream/internal/dvs/remap"
	"github.com/banshee-data/eventstream/internal/dvs/serialdvs"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/monitoring"
	"github.com/banshee-data/eventstream/internal/version"
)

func main() {
	o := newFlagSet(os.Stderr)
	cfg, err := o.parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}
	if o.version {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(o.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg, o)
	if err != nil {
		log.Fatalf("run %s failed: %v", stats.RunID, err)
	}
}

// plan is the resolved set of endpoints for one run.
type plan struct {
	in    pipeline.InputConfig
	out   pipeline.OutputConfig
	build remap.BuildOptions
	runID string
}

func resolve(cfg *config.PipelineConfig, o *options) (plan, error) {
	kind, err := pipeline.ParseInputKind(cfg.GetInput())
	if err != nil {
		return plan{}, err
	}
	transform, err := remap.ParseTransform(cfg.GetTransform())
	if err != nil {
		return plan{}, err
	}
	format, err := serialdvs.ParseFormat(cfg.GetSerialFormat())
	if err != nil {
		return plan{}, err
	}

	p := plan{
		build: remap.BuildOptions{
			Dimensions:      remap.Dimensions{Width: cfg.GetWidth(), Height: cfg.GetHeight()},
			CalibrationPath: cfg.GetCalibration(),
			Transform:       transform,
			SpatialSample:   cfg.GetSpatialSample(),
		},
		runID: pipeline.NewRunID(),
	}
	p.in = pipeline.InputConfig{
		Kind:             kind,
		Path:             o.source,
		Port:             cfg.GetPCAPPort(),
		IncludeTimestamp: cfg.GetIncludeTimestamp(),
		Speed:            cfg.GetPCAPSpeed(),
		TimeLimit:        cfg.GetTimeout(),
		Serial:           serialdvs.PortOptions{BaudRate: cfg.GetSerialBaud()},
		Format:           format,
		Stream:           "dvsstream",
	}
	switch kind {
	case pipeline.InputLive:
		p.in.Device = o.source
	case pipeline.InputDB:
		p.in.RunID = o.runID
	default:
		if o.runID != "" {
			p.runID = o.runID
		}
	}
	p.out = pipeline.OutputConfig{
		Path:             cfg.GetOutput(),
		UDPAddress:       cfg.GetUDPAddress(),
		UDPPort:          cfg.GetUDPPort(),
		PacketSize:       cfg.GetPacketSize(),
		BufferSize:       cfg.GetBufferSize(),
		IncludeTimestamp: cfg.GetIncludeTimestamp(),
		GRPCListen:       cfg.GetGRPCListen(),
		Polarity:         o.polarity,
		RunID:            p.runID,
	}
	return p, nil
}

func run(ctx context.Context, cfg *config.PipelineConfig, o *options) (pipeline.Stats, error) {
	p, err := resolve(cfg, o)
	if err != nil {
		return pipeline.Stats{}, err
	}

	table, outDims, err := remap.Build(p.build)
	if err != nil {
		return pipeline.Stats{RunID: p.runID}, err
	}
	rm, err := remap.NewRemapper(table, cfg.GetTemporalSample())
	if err != nil {
		return pipeline.Stats{RunID: p.runID}, err
	}
	p.out.Width, p.out.Height = outDims.Width, outDims.Height
	log.Printf("remapping %dx%d -> %dx%d (%s, s=%d, t=%d)", p.build.Dimensions.Width, p.build.Dimensions.Height,
		outDims.Width, outDims.Height, p.build.Transform, cfg.GetSpatialSample(), cfg.GetTemporalSample())
	log.Printf("lookup table: %s", fanOutSummary(table))

	var ledger *store.Store
	if path := cfg.GetDBPath(); path != "" {
		ledger, err = store.Open(path)
		if err != nil {
			return pipeline.Stats{RunID: p.runID}, fmt.Errorf("open run ledger: %w", err)
		}
		defer ledger.Close()
	}

	src, err := pipeline.OpenSource(ctx, p.in)
	if err != nil {
		return pipeline.Stats{RunID: p.runID}, err
	}
	sink, err := pipeline.OpenSink(p.out)
	if err != nil {
		src.Close()
		return pipeline.Stats{RunID: p.runID}, err
	}

	return pipeline.Run(ctx, src, rm, sink, pipeline.Options{
		RunID:     p.runID,
		MaxEvents: cfg.GetMaxEvents(),
		Ledger:    ledger,
		Describe: store.Run{
			Input:     p.in.Describe(),
			Output:    p.out.Describe(),
			Transform: p.build.Transform.String(),
			Width:     p.build.Dimensions.Width,
			Height:    p.build.Dimensions.Height,
			OutWidth:  outDims.Width,
			OutHeight: outDims.Height,
		},
	})
}

// fanOutSummary reports how many source pixels are dropped, mapped once and
// split in two by the table.
func fanOutSummary(t *remap.Table) string {
	h := t.FanOutHistogram()
	return fmt.Sprintf("%d dropped, %d single, %d split of %d pixels", h[0], h[1], h[2], t.Len())
}
