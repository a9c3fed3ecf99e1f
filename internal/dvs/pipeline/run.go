// Package pipeline drives a Source through a Remapper into a Sink and
// selects those endpoints from configuration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/dvs/remap"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/monitoring"
)

var logf = monitoring.Component("pipeline")

// Options tunes a single run.
type Options struct {
	// RunID names the run in the ledger and in stored events. Empty
	// generates one.
	RunID string
	// MaxEvents stops after this many source events. Zero is unlimited.
	MaxEvents uint64
	// Ledger, when set, records the run's start and outcome.
	Ledger *store.Store
	// Describe fills the ledger row's descriptive columns.
	Describe store.Run
}

// Stats summarises a finished run.
type Stats struct {
	RunID    string
	In       uint64
	Out      uint64
	Remap    remap.Stats
	Duration time.Duration
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Run pulls every event from src, remaps it and writes the result to sink.
// The sink is flushed at end of stream. src and sink are always closed,
// including when a transport error stops the run part way.
func Run(ctx context.Context, src dvs.Source, rm *remap.Remapper, sink dvs.Sink, opts Options) (stats Stats, err error) {
	if src == nil || rm == nil || sink == nil {
		closeAll(src, sink)
		return Stats{}, dvs.Configf("pipeline", "source, remapper and sink are required")
	}
	stats.RunID = opts.RunID
	if stats.RunID == "" {
		stats.RunID = NewRunID()
	}
	start := time.Now()

	if opts.Ledger != nil {
		row := opts.Describe
		row.ID = stats.RunID
		row.StartedAt = start
		if err := opts.Ledger.StartRun(ctx, row); err != nil {
			closeAll(src, sink)
			return stats, fmt.Errorf("record run: %w", err)
		}
		defer func() {
			// The run outcome is recorded even when ctx was cancelled.
			if ferr := opts.Ledger.FinishRun(context.Background(), stats.RunID, stats.In, stats.Out, err); ferr != nil {
				logf("finish run %s: %v", stats.RunID, ferr)
			}
		}()
	}

	rm.Reset()
	err = pump(ctx, src, rm, sink, opts.MaxEvents, &stats)
	if err == nil {
		err = sink.Flush()
	}
	if cerr := closeAll(src, sink); err == nil {
		err = cerr
	}

	stats.Remap = rm.Stats()
	stats.Duration = time.Since(start)
	logf("run %s read %d events, wrote %d in %s", stats.RunID, stats.In, stats.Out, stats.Duration.Round(time.Millisecond))
	return stats, err
}

func pump(ctx context.Context, src dvs.Source, rm *remap.Remapper, sink dvs.Sink, limit uint64, stats *Stats) error {
	out := make([]dvs.Event, 0, remap.MaxFanOut)
	for {
		if limit > 0 && stats.In >= limit {
			return nil
		}
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		stats.In++

		out = rm.Apply(ev, out[:0])
		for _, o := range out {
			if err := sink.Write(o); err != nil {
				return err
			}
			stats.Out++
		}
	}
}

func closeAll(src dvs.Source, sink dvs.Sink) error {
	var errs []error
	if src != nil {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
