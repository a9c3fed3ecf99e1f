package main

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
	"github.com/banshee-data/eventstream/internal/dvs/store"
)

type snapshotReader interface {
	Read() accumulator.Snapshot
}

// snapshotLoop reads the accumulator on every tick, publishes the frame to
// the monitor and archives every Nth frame that saw events.
type snapshotLoop struct {
	acc     snapshotReader
	publish func(accumulator.Snapshot)
	archive *store.Store
	runID   string
	every   int

	taken    int
	archived int
}

func (l *snapshotLoop) run(ctx context.Context, ticks <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			l.step(ctx)
		}
	}
}

func (l *snapshotLoop) step(ctx context.Context) {
	snap := l.acc.Read()
	l.taken++
	if l.archive != nil && l.every > 0 && l.taken%l.every == 0 && snap.Total() > 0 {
		if _, err := l.archive.SaveSnapshot(ctx, l.runID, snap); err != nil {
			log.Printf("archive snapshot %d: %v", snap.Seq, err)
		} else {
			l.archived++
		}
	}
	if l.publish != nil {
		l.publish(snap)
	}
}
