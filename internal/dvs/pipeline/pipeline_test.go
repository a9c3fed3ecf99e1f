package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/dvs/network"
	"github.com/banshee-data/eventstream/internal/dvs/remap"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/monitoring"
	"github.com/banshee-data/eventstream/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func newRemapper(t *testing.T, opts remap.BuildOptions, tSample int) *remap.Remapper {
	t.Helper()
	table, _, err := remap.Build(opts)
	require.NoError(t, err)
	rm, err := remap.NewRemapper(table, tSample)
	require.NoError(t, err)
	return rm
}

// trackingSource records whether it was closed.
type trackingSource struct {
	*dvs.SliceSource
	closed bool
}

func (s *trackingSource) Close() error {
	s.closed = true
	return s.SliceSource.Close()
}

// failingSink fails writes after accepting limit events.
type failingSink struct {
	dvs.SliceSink
	limit int
}

func (s *failingSink) Write(ev dvs.Event) error {
	if len(s.Events) >= s.limit {
		return &dvs.TransportError{Op: "send", Err: errors.New("network unreachable")}
	}
	return s.SliceSink.Write(ev)
}

func TestRunIdentityScenario(t *testing.T) {
	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 4, Height: 4}, Transform: remap.Identity, SpatialSample: 1}, 1)
	in := []dvs.Event{{Timestamp: 0, X: 1, Y: 2}, {Timestamp: 1, X: 3, Y: 3}}
	sink := &dvs.SliceSink{}

	stats, err := Run(context.Background(), dvs.NewSliceSource(in), rm, sink, Options{})
	require.NoError(t, err)

	if diff := cmp.Diff(in, sink.Events); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(2), stats.In)
	assert.Equal(t, uint64(2), stats.Out)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 1, sink.Flushes)
	assert.True(t, sink.Closed)
}

func TestRunRot180Scenario(t *testing.T) {
	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 4, Height: 4}, Transform: remap.Rot180}, 1)
	sink := &dvs.SliceSink{}

	_, err := Run(context.Background(), dvs.NewSliceSource([]dvs.Event{{Timestamp: 5, X: 1, Y: 2, Polarity: true}}), rm, sink, Options{})
	require.NoError(t, err)
	assert.Equal(t, []dvs.Event{{Timestamp: 5, X: 2, Y: 1, Polarity: true}}, sink.Events)
}

func TestRunMaxEvents(t *testing.T) {
	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 8, Height: 8}}, 1)
	in := testutil.Events(10, 8, 8)
	src := &trackingSource{SliceSource: dvs.NewSliceSource(in)}
	sink := &dvs.SliceSink{}

	stats, err := Run(context.Background(), src, rm, sink, Options{MaxEvents: 4})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), stats.In)
	assert.Len(t, sink.Events, 4)
	assert.True(t, src.closed)
}

func TestRunTemporalCounterResetsPerRun(t *testing.T) {
	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 8, Height: 1}}, 3)
	in := make([]dvs.Event, 8)
	for i := range in {
		in[i] = dvs.Event{Timestamp: uint64(i), X: uint16(i)}
	}

	first := &dvs.SliceSink{}
	_, err := Run(context.Background(), dvs.NewSliceSource(in), rm, first, Options{})
	require.NoError(t, err)

	second := &dvs.SliceSink{}
	_, err = Run(context.Background(), dvs.NewSliceSource(in), rm, second, Options{})
	require.NoError(t, err)

	assert.Len(t, first.Events, 3)
	assert.Equal(t, first.Events, second.Events)
}

func TestRunClosesEndpointsOnTransportError(t *testing.T) {
	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 4, Height: 4}}, 1)
	src := &trackingSource{SliceSource: dvs.NewSliceSource([]dvs.Event{{X: 0}, {X: 1}, {X: 2}})}
	sink := &failingSink{limit: 1}

	stats, err := Run(context.Background(), src, rm, sink, Options{})
	assert.ErrorIs(t, err, dvs.ErrTransport)
	assert.Equal(t, uint64(1), stats.Out)
	assert.True(t, src.closed)
	assert.True(t, sink.Closed)
	assert.Zero(t, sink.Flushes)
}

func TestRunCancelledContextEndsStream(t *testing.T) {
	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 4, Height: 4}}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &dvs.SliceSink{}

	stats, err := Run(ctx, dvs.NewSliceSource([]dvs.Event{{X: 1}}), rm, sink, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.In)
	assert.Equal(t, 1, sink.Flushes)
}

func TestRunRequiresEndpoints(t *testing.T) {
	src := &trackingSource{SliceSource: dvs.NewSliceSource(nil)}
	_, err := Run(context.Background(), src, nil, &dvs.SliceSink{}, Options{})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)
	assert.True(t, src.closed)
}

func TestRunRecordsLedger(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 4, Height: 4}}, 1)
	stats, err := Run(ctx, dvs.NewSliceSource([]dvs.Event{{X: 1}, {X: 2}}), rm, &dvs.SliceSink{}, Options{
		Ledger:   st,
		Describe: store.Run{Input: "file:in.csv", Output: "stdout", Width: 4, Height: 4},
	})
	require.NoError(t, err)

	run, err := st.GetRun(ctx, stats.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, run.Status)
	assert.Equal(t, "file:in.csv", run.Input)
	assert.Equal(t, uint64(2), run.EventsIn)
	assert.Equal(t, uint64(2), run.EventsOut)

	_, err = Run(ctx, dvs.NewSliceSource([]dvs.Event{{X: 1}}), rm, &failingSink{}, Options{RunID: "broken", Ledger: st})
	require.Error(t, err)
	run, err = st.GetRun(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "network unreachable")
}

func TestRunThroughFilesAndDatabase(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	in := testutil.WriteFile(t, "in.csv", "# ts,x,y\n10,0,0\n20,1,0\n30,1,1\n")

	// csv -> evz with a quarter turn.
	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 2, Height: 2}, Transform: remap.Rot90}, 1)
	src, err := OpenSource(ctx, InputConfig{Kind: InputFile, Path: in})
	require.NoError(t, err)
	evz := filepath.Join(dir, "out.evz")
	sink, err := OpenSink(OutputConfig{Path: evz, Width: 2, Height: 2})
	require.NoError(t, err)
	_, err = Run(ctx, src, rm, sink, Options{})
	require.NoError(t, err)

	// evz -> sqlite, identity.
	id := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 2, Height: 2}}, 1)
	src, err = OpenSource(ctx, InputConfig{Kind: InputFile, Path: evz})
	require.NoError(t, err)
	db := filepath.Join(dir, "events.db")
	runID := NewRunID()
	sink, err = OpenSink(OutputConfig{Path: db, RunID: runID})
	require.NoError(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.StartRun(ctx, store.Run{ID: runID}))
	require.NoError(t, st.Close())

	_, err = Run(ctx, src, id, sink, Options{RunID: runID})
	require.NoError(t, err)

	// sqlite -> memory.
	src, err = OpenSource(ctx, InputConfig{Kind: InputDB, Path: db, RunID: runID})
	require.NoError(t, err)
	got, err := dvs.Collect(ctx, src)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	// rot_90 maps (x, y) to (y, W-1-x).
	want := []dvs.Event{
		{Timestamp: 10, X: 0, Y: 1, Polarity: true},
		{Timestamp: 20, X: 0, Y: 0, Polarity: true},
		{Timestamp: 30, X: 1, Y: 0, Polarity: true},
	}
	assert.Equal(t, want, got)

	// The run already holds events, so writing it again is refused up front.
	_, err = OpenSink(OutputConfig{Path: db, RunID: runID})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)
	st, err = store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.CountEvents(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	fresh, err := OpenSink(OutputConfig{Path: db, RunID: NewRunID()})
	require.NoError(t, err)
	require.NoError(t, fresh.Close())
}

func TestRunToPacketSink(t *testing.T) {
	w := &network.MockUDPWriter{}
	sink, err := OpenSink(OutputConfig{UDPAddress: "127.0.0.1", UDPPort: 7777, PacketSize: 2, BufferSize: 4, Dialer: w.Dialer()})
	require.NoError(t, err)

	rm := newRemapper(t, remap.BuildOptions{Dimensions: remap.Dimensions{Width: 4, Height: 4}}, 1)
	in := []dvs.Event{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 3}}
	_, err = Run(context.Background(), dvs.NewSliceSource(in), rm, sink, Options{})
	require.NoError(t, err)

	sent := w.Sent()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0], 8)
	assert.Len(t, sent[1], 4)

	var got []dvs.Event
	for _, d := range sent {
		got, err = network.DecodeDatagram(d, false, got)
		require.NoError(t, err)
	}
	for i := range in {
		assert.Equal(t, in[i].X, got[i].X)
		assert.Equal(t, in[i].Y, got[i].Y)
	}
	assert.True(t, w.Closed)
}

func TestOpenSourceErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  InputConfig
		want error
	}{
		{"no input", InputConfig{}, dvs.ErrConfiguration},
		{"unknown input", InputConfig{Kind: "zmq"}, dvs.ErrConfiguration},
		{"aedat", InputConfig{Kind: InputFile, Path: "rec.aedat4"}, dvs.ErrUnsupportedBackend},
		{"bad extension", InputConfig{Kind: InputFile, Path: "rec.bin"}, dvs.ErrConfiguration},
		{"pcap without path", InputConfig{Kind: InputPCAP}, dvs.ErrConfiguration},
		{"live without device", InputConfig{Kind: InputLive}, dvs.ErrConfiguration},
		{"serial without path", InputConfig{Kind: InputSerial}, dvs.ErrConfiguration},
		{"grpc without target", InputConfig{Kind: InputGRPC}, dvs.ErrConfiguration},
		{"db without run", InputConfig{Kind: InputDB, Path: "x.db"}, dvs.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := OpenSource(ctx, tc.cfg)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	db := filepath.Join(t.TempDir(), "empty.db")
	_, err := OpenSource(ctx, InputConfig{Kind: InputDB, Path: db, RunID: "missing"})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)
}

func TestOpenSinkErrors(t *testing.T) {
	_, err := OpenSink(OutputConfig{Path: "out.xyz"})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)

	_, err = OpenSink(OutputConfig{Path: "out.db"})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)

	_, err = OpenSink(OutputConfig{UDPAddress: "127.0.0.1", UDPPort: 0})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)

	_, err = OpenSink(OutputConfig{UDPAddress: "127.0.0.1", UDPPort: 9, PacketSize: 20000})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)
}

func TestParseInputKind(t *testing.T) {
	for _, k := range InputKinds() {
		got, err := ParseInputKind(" " + string(k) + " ")
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseInputKind("aedat")
	assert.ErrorIs(t, err, dvs.ErrConfiguration)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "file:in.csv", InputConfig{Kind: InputFile, Path: "in.csv"}.Describe())
	assert.Equal(t, "live:eth0", InputConfig{Kind: InputLive, Device: "eth0"}.Describe())
	assert.Equal(t, "db:a.db#r1", InputConfig{Kind: InputDB, Path: "a.db", RunID: "r1"}.Describe())
	assert.Equal(t, "udp:127.0.0.1:7777", OutputConfig{UDPAddress: "127.0.0.1", UDPPort: 7777}.Describe())
	assert.Equal(t, "grpc::9000", OutputConfig{GRPCListen: ":9000"}.Describe())
	assert.Equal(t, "stdout", OutputConfig{}.Describe())
	assert.Equal(t, "file:o.evz", OutputConfig{Path: "o.evz"}.Describe())
}
