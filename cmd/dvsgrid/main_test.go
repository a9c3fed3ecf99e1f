package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/dvs/network"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/testutil"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

func TestParseFlags(t *testing.T) {
	o := newFlagSet(&bytes.Buffer{})
	cfg, err := o.parse([]string{"-width", "346", "-height", "260", "-storage", "matrix", "-archive-every", "10"})
	require.NoError(t, err)
	assert.Equal(t, 346, cfg.GetWidth())
	assert.Equal(t, 260, cfg.GetHeight())
	assert.Equal(t, "matrix", cfg.GetStorage())
	assert.Equal(t, 10, cfg.GetArchiveEvery())
	assert.Equal(t, ":7777", cfg.GetListenAddress())
	assert.Equal(t, time.Second, cfg.GetSnapshotInterval())

	_, err = newFlagSet(&bytes.Buffer{}).parse([]string{"-storage", "cuda"})
	assert.Error(t, err)

	path := testutil.WriteFile(t, "grid.json", `{"listen": ":9000", "snapshot_interval": "250ms", "width": 64}`)
	o = newFlagSet(&bytes.Buffer{})
	cfg, err = o.parse([]string{"-config", path, "-width", "32"})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.GetListenAddress())
	assert.Equal(t, 250*time.Millisecond, cfg.GetSnapshotInterval())
	assert.Equal(t, 32, cfg.GetWidth())
}

func TestNewGridRejectsZeroInterval(t *testing.T) {
	o := newFlagSet(&bytes.Buffer{})
	cfg, err := o.parse([]string{"-snapshot-interval", "0s"})
	require.NoError(t, err)
	_, err = newGrid(cfg, o, gridDeps{})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)
}

func TestGridEndToEnd(t *testing.T) {
	var packet []byte
	for _, ev := range []dvs.Event{{X: 1, Y: 2}, {X: 1, Y: 2}, {X: 3, Y: 0}} {
		packet = network.EncodeEvent(packet, ev, false)
	}
	socket := network.NewMockUDPSocket([]network.MockUDPPacket{{Data: packet}})
	forward := &network.MockUDPWriter{}
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	db := filepath.Join(t.TempDir(), "grid.db")

	o := newFlagSet(&bytes.Buffer{})
	cfg, err := o.parse([]string{
		"-width", "4", "-height", "4", "-listen", "127.0.0.1:7777", "-http", "127.0.0.1:0",
		"-db", db, "-archive-every", "1", "-run-id", "grid-e2e", "-forward-addr", "127.0.0.1:9999",
	})
	require.NoError(t, err)

	g, err := newGrid(cfg, o, gridDeps{
		sockets: &network.MockUDPSocketFactory{Socket: socket},
		dialer:  forward.Dialer(),
		clock:   clock,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticker := clock.NewTicker(time.Second)
	done := make(chan error, 1)
	go func() { done <- g.run(ctx, ticker.C()) }()

	testutil.Eventually(t, 2*time.Second, func() bool { return g.acc.Stats().Added == 3 })
	clock.Advance(time.Second)
	testutil.Eventually(t, 2*time.Second, func() bool { return !g.ws.Latest().Empty() })

	snap := g.ws.Latest()
	assert.Equal(t, uint32(2), snap.At(1, 2))
	assert.Equal(t, uint32(1), snap.At(3, 0))

	rec := httptest.NewRecorder()
	g.ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":3`)

	testutil.Eventually(t, 2*time.Second, func() bool { return len(forward.Sent()) == 1 })

	cancel()
	require.NoError(t, <-done)
	assert.True(t, socket.IsClosed())

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	r, err := st.GetRun(context.Background(), "grid-e2e")
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, r.Status)
	assert.Equal(t, uint64(3), r.EventsIn)
	infos, err := st.ListSnapshots(context.Background(), "grid-e2e", 0)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
