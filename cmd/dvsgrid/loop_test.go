package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/testutil"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

type publishRecorder struct {
	mu    sync.Mutex
	snaps []accumulator.Snapshot
}

func (p *publishRecorder) publish(s accumulator.Snapshot) {
	p.mu.Lock()
	p.snaps = append(p.snaps, s)
	p.mu.Unlock()
}

func (p *publishRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

func TestSnapshotLoopPublishesAndArchives(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "grid.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, st.StartRun(ctx, store.Run{ID: "grid-1", Input: "udp::7777", Output: "grid", Width: 4, Height: 4}))

	acc, err := accumulator.New(4, 4, accumulator.HostStorage{})
	require.NoError(t, err)
	rec := &publishRecorder{}
	loop := &snapshotLoop{acc: acc, publish: rec.publish, archive: st, runID: "grid-1", every: 2}

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	done := make(chan error, 1)
	go func() { done <- loop.run(ctx, ticker.C()) }()

	for i := 1; i <= 4; i++ {
		acc.Increment(1, 2)
		clock.Advance(time.Second)
		want := i
		testutil.Eventually(t, 2*time.Second, func() bool { return rec.count() == want })
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 4, loop.taken)
	assert.Equal(t, 2, loop.archived)
	for _, snap := range rec.snaps {
		assert.Equal(t, uint32(1), snap.At(1, 2))
	}

	infos, err := st.ListSnapshots(context.Background(), "grid-1", 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, uint64(1), info.Total)
	}
}

func TestSnapshotLoopSkipsQuietFrames(t *testing.T) {
	acc, err := accumulator.New(2, 2, accumulator.MatrixStorage{})
	require.NoError(t, err)
	rec := &publishRecorder{}
	loop := &snapshotLoop{acc: acc, publish: rec.publish, every: 1}

	loop.step(context.Background())
	loop.step(context.Background())

	assert.Equal(t, 2, rec.count())
	assert.Zero(t, loop.archived, "no archive configured")
	assert.Equal(t, uint64(1), rec.snaps[0].Seq)
	assert.Equal(t, uint64(2), rec.snaps[1].Seq)
}
