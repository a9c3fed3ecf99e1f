package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/testutil"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

type capturedDatagram struct {
	at      time.Time
	dstPort uint16
	payload []byte
}

func udpFrame(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 10),
		DstIP:    net.IPv4(192, 168, 1, 20),
	}
	udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, datagrams []capturedDatagram) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, d := range datagrams {
		frame := udpFrame(t, d.dstPort, d.payload)
		ci := gopacket.CaptureInfo{Timestamp: d.at, CaptureLength: len(frame), Length: len(frame)}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return out.Bytes()
}

func TestPCAPSourceReplaysMatchingPort(t *testing.T) {
	base := time.Unix(1700000000, 0)
	capture := writeCapture(t, []capturedDatagram{
		{base, 3333, encodeAll([]dvs.Event{{X: 1, Y: 1}, {X: 2, Y: 2}}, false)},
		{base.Add(time.Millisecond), 5353, encodeAll([]dvs.Event{{X: 9, Y: 9}}, false)},
		{base.Add(2 * time.Millisecond), 3333, []byte{1, 2, 3}},
		{base.Add(3 * time.Millisecond), 3333, encodeAll([]dvs.Event{{X: 3, Y: 4, Polarity: true}}, false)},
	})

	src, err := NewPCAPSource(bytes.NewReader(capture), PCAPConfig{Port: 3333})
	require.NoError(t, err)
	defer src.Close()

	events, err := dvs.Collect(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, dvs.Event{X: 3, Y: 4, Polarity: true}, events[2])

	packets, skipped := src.Stats()
	assert.Equal(t, 4, packets)
	assert.Equal(t, 2, skipped)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestPCAPSourcePacesAgainstCaptureTime(t *testing.T) {
	base := time.Unix(1700000000, 0)
	capture := writeCapture(t, []capturedDatagram{
		{base, 3333, encodeAll([]dvs.Event{{X: 1}}, false)},
		{base.Add(10 * time.Millisecond), 3333, encodeAll([]dvs.Event{{X: 2}}, false)},
		{base.Add(30 * time.Millisecond), 3333, encodeAll([]dvs.Event{{X: 3}}, false)},
	})
	start := time.Unix(0, 0)
	clock := timeutil.NewMockClock(start)
	src, err := NewPCAPSource(bytes.NewReader(capture), PCAPConfig{Speed: 2, Clock: clock})
	require.NoError(t, err)

	type result struct {
		events []dvs.Event
		err    error
	}
	done := make(chan result, 1)
	go func() {
		events, err := dvs.Collect(context.Background(), src)
		done <- result{events, err}
	}()

	// At speed 2 the datagrams are due 5ms and 15ms after the first.
	for _, step := range []time.Duration{5 * time.Millisecond, 10 * time.Millisecond} {
		testutil.Eventually(t, 2*time.Second, func() bool { return clock.Waiters() == 1 })
		clock.Advance(step)
	}

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Len(t, r.events, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish")
	}
	assert.Equal(t, start.Add(15*time.Millisecond), clock.Now())
}

func TestPCAPSourceCancelDuringPacedWait(t *testing.T) {
	base := time.Unix(1700000000, 0)
	capture := writeCapture(t, []capturedDatagram{
		{base, 3333, encodeAll([]dvs.Event{{X: 1}}, false)},
		{base.Add(3 * time.Second), 3333, encodeAll([]dvs.Event{{X: 2}}, false)},
	})
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src, err := NewPCAPSource(bytes.NewReader(capture), PCAPConfig{Speed: 1, Clock: clock})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ev, err := src.Next(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ev.X)

	type result struct {
		ev  dvs.Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := src.Next(ctx)
		done <- result{ev, err}
	}()

	testutil.Eventually(t, 2*time.Second, func() bool { return clock.Waiters() == 1 })
	cancel()

	select {
	case r := <-done:
		assert.Equal(t, io.EOF, r.err, "pending datagram must not be delivered after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("Next blocked after cancellation")
	}
	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestOpenPCAPFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.pcap")
	capture := writeCapture(t, []capturedDatagram{
		{time.Unix(1, 0), 3333, encodeAll([]dvs.Event{{Timestamp: 42, X: 5, Y: 6}}, true)},
	})
	require.NoError(t, os.WriteFile(path, capture, 0o644))

	src, err := OpenPCAP(path, PCAPConfig{IncludeTimestamp: true})
	require.NoError(t, err)
	events, err := dvs.Collect(context.Background(), src)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.Len(t, events, 1)
	assert.EqualValues(t, 42, events[0].Timestamp)

	_, err = OpenPCAP(filepath.Join(t.TempDir(), "missing.pcap"), PCAPConfig{})
	assert.Error(t, err)
}

func TestPCAPSourceRejectsGarbage(t *testing.T) {
	_, err := NewPCAPSource(bytes.NewReader([]byte("not a capture file")), PCAPConfig{})
	assert.Error(t, err)
}
