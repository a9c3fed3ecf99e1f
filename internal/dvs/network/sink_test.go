package network

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventstream/internal/dvs"
)

func makeEvents(n int) []dvs.Event {
	events := make([]dvs.Event, n)
	for i := range events {
		events[i] = dvs.Event{Timestamp: uint64(i), X: uint16(i % 100), Y: uint16(i % 50)}
	}
	return events
}

func TestPacketSinkBatchesIntoFixedDatagrams(t *testing.T) {
	w := &MockUDPWriter{}
	sink, err := NewPacketSink(PacketSinkConfig{Address: "127.0.0.1", Port: 3333, Dialer: w.Dialer()})
	require.NoError(t, err)

	n, err := sink.Stream(context.Background(), dvs.NewSliceSource(makeEvents(300)))
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	require.NoError(t, sink.Close())

	sent := w.Sent()
	require.Len(t, sent, 3)
	assert.Len(t, sent[0], 128*4)
	assert.Len(t, sent[1], 128*4)
	assert.Len(t, sent[2], 44*4)
	assert.True(t, w.Closed)

	events, datagrams := sink.Sent()
	assert.EqualValues(t, 300, events)
	assert.EqualValues(t, 3, datagrams)

	// Order survives batching.
	var decoded []dvs.Event
	for _, d := range sent {
		decoded, err = DecodeDatagram(d, false, decoded)
		require.NoError(t, err)
	}
	require.Len(t, decoded, 300)
	assert.Equal(t, uint16(299%100), decoded[299].X)
}

func TestPacketSinkTimestampFraming(t *testing.T) {
	w := &MockUDPWriter{}
	sink, err := NewPacketSink(PacketSinkConfig{
		Address: "localhost", Port: 9000, PacketSize: 2, BufferSize: 4,
		IncludeTimestamp: true, Dialer: w.Dialer(),
	})
	require.NoError(t, err)

	for _, ev := range makeEvents(5) {
		require.NoError(t, sink.Write(ev))
	}
	assert.Equal(t, 1, sink.Pending())
	require.NoError(t, sink.Flush())
	assert.Zero(t, sink.Pending())

	sent := w.Sent()
	require.Len(t, sent, 3)
	assert.Len(t, sent[0], 16)
	assert.Len(t, sent[2], 8)

	last, err := DecodeDatagram(sent[2], true, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, last[0].Timestamp)
}

func TestPacketSinkEmptyFlushSendsNothing(t *testing.T) {
	w := &MockUDPWriter{}
	sink, err := NewPacketSink(PacketSinkConfig{Address: "127.0.0.1", Port: 1, Dialer: w.Dialer()})
	require.NoError(t, err)
	require.NoError(t, sink.Flush())
	assert.Empty(t, w.Sent())
}

func TestPacketSinkSendFailureKeepsBatch(t *testing.T) {
	w := &MockUDPWriter{WriteError: errors.New("network unreachable")}
	sink, err := NewPacketSink(PacketSinkConfig{Address: "127.0.0.1", Port: 3333, PacketSize: 2, BufferSize: 8, Dialer: w.Dialer()})
	require.NoError(t, err)

	require.NoError(t, sink.Write(dvs.Event{X: 1}))
	err = sink.Write(dvs.Event{X: 2})
	var terr *dvs.TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, dvs.ErrTransport)
	assert.Equal(t, 2, sink.Pending())

	w.WriteError = nil
	require.NoError(t, sink.Write(dvs.Event{X: 3}))
	assert.Equal(t, 1, sink.Pending())

	sent := w.Sent()
	require.Len(t, sent, 1)
	got, err := DecodeDatagram(sent[0], false, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, []uint16{got[0].X, got[1].X})
}

func TestPacketSinkBatchStaysWithinBufferSize(t *testing.T) {
	w := &MockUDPWriter{WriteError: errors.New("network unreachable")}
	sink, err := NewPacketSink(PacketSinkConfig{Address: "127.0.0.1", Port: 3333, PacketSize: 4, BufferSize: 8, Dialer: w.Dialer()})
	require.NoError(t, err)

	for i, ev := range makeEvents(100) {
		err := sink.Write(ev)
		if i >= 3 {
			assert.ErrorIs(t, err, dvs.ErrTransport, "write %d", i)
		}
		require.LessOrEqual(t, sink.Pending(), 8, "write %d", i)
	}
	assert.Equal(t, 8, sink.Pending())
	assert.LessOrEqual(t, cap(sink.batch), 8*EventBytes(false))

	// Once the link recovers the retained batch goes out in order.
	w.WriteError = nil
	require.NoError(t, sink.Write(dvs.Event{X: 99}))
	require.NoError(t, sink.Flush())
	assert.Zero(t, sink.Pending())
	var xs []uint16
	for _, d := range w.Sent() {
		got, err := DecodeDatagram(d, false, nil)
		require.NoError(t, err)
		for _, ev := range got {
			xs = append(xs, ev.X)
		}
	}
	assert.Equal(t, []uint16{0, 1, 2, 3, 4, 5, 6, 7, 99}, xs)
}

func TestPacketSinkConfigErrors(t *testing.T) {
	w := &MockUDPWriter{}
	cases := map[string]PacketSinkConfig{
		"missing address": {Port: 3333},
		"bad port":        {Address: "127.0.0.1", Port: 70000},
		"buffer too small": {
			Address: "127.0.0.1", Port: 3333, PacketSize: 256, BufferSize: 128,
		},
		"datagram too large": {
			Address: "127.0.0.1", Port: 3333, PacketSize: 10000, BufferSize: 10000, IncludeTimestamp: true,
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg.Dialer = w.Dialer()
			_, err := NewPacketSink(cfg)
			assert.ErrorIs(t, err, dvs.ErrConfiguration)
		})
	}
}

func TestPacketSinkDialFailure(t *testing.T) {
	_, err := NewPacketSink(PacketSinkConfig{
		Address: "127.0.0.1", Port: 3333,
		Dialer: func(string) (UDPWriter, error) { return nil, errors.New("refused") },
	})
	assert.ErrorIs(t, err, dvs.ErrTransport)
}

func TestPacketSinkWriteAfterClose(t *testing.T) {
	w := &MockUDPWriter{}
	sink, err := NewPacketSink(PacketSinkConfig{Address: "127.0.0.1", Port: 3333, Dialer: w.Dialer()})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Write(dvs.Event{}), dvs.ErrTransport)
}
