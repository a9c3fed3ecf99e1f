package serialdvs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

// e4 encodes one event in the E4 format.
func e4(x, y byte, off bool, ts uint32) []byte {
	b1 := x & 0x7F
	if off {
		b1 |= 0x80
	}
	return []byte{0x80 | y&0x7F, b1, byte(ts >> 24), byte(ts >> 16), byte(ts >> 8), byte(ts)}
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "E"}, opts)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)

	mode, err := PortOptions{BaudRate: 115200, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.OddParity, StopBits: serial.TwoStopBits}, mode)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatE0, "E0": FormatE0, "e2": FormatE2, "3": FormatE3, " E4 ": FormatE4} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("E1")
	assert.ErrorIs(t, err, dvs.ErrConfiguration)
	assert.Equal(t, "E4", FormatE4.String())
}

func TestDecoderE4SplitAcrossReads(t *testing.T) {
	stream := append(e4(10, 20, false, 1000), e4(127, 0, true, 1005)...)
	d := NewDecoder(FormatE4, nil)

	var got []dvs.Event
	got = d.Feed(stream[:4], got)
	assert.Empty(t, got)
	got = d.Feed(stream[4:9], got)
	require.Len(t, got, 1)
	got = d.Feed(stream[9:], got)

	want := []dvs.Event{
		{Timestamp: 1000, X: 10, Y: 20, Polarity: true},
		{Timestamp: 1005, X: 127, Y: 0, Polarity: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded events (-want +got):\n%s", diff)
	}
}

func TestDecoderResyncsOnMissingSyncBit(t *testing.T) {
	d := NewDecoder(FormatE4, nil)
	stream := append([]byte{0x01, 0x02}, e4(1, 2, false, 7)...)
	got := d.Feed(stream, nil)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(1), got[0].X)
	assert.Equal(t, 2, d.Resynced())
}

func TestDecoderUnwrapsShortTimestamps(t *testing.T) {
	d := NewDecoder(FormatE2, nil)
	ev := func(ts uint16) []byte { return []byte{0x80, 0x00, byte(ts >> 8), byte(ts)} }
	var stream []byte
	stream = append(stream, ev(65000)...)
	stream = append(stream, ev(65530)...)
	stream = append(stream, ev(10)...)

	got := d.Feed(stream, nil)
	require.Len(t, got, 3)
	assert.EqualValues(t, 65000, got[0].Timestamp)
	assert.EqualValues(t, 65530, got[1].Timestamp)
	assert.EqualValues(t, 65536+10, got[2].Timestamp)
}

func TestDecoderE0UsesHostClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	d := NewDecoder(FormatE0, clock)
	got := d.Feed([]byte{0x85, 0x03}, nil)
	clock.Advance(2 * time.Millisecond)
	got = d.Feed([]byte{0x86, 0x04}, got)

	require.Len(t, got, 2)
	assert.EqualValues(t, 0, got[0].Timestamp)
	assert.EqualValues(t, 2000, got[1].Timestamp)
	assert.Equal(t, uint16(3), got[0].X)
	assert.Equal(t, uint16(5), got[0].Y)
}

func TestSourceStreamsAndStops(t *testing.T) {
	var stream []byte
	for i := 0; i < 50; i++ {
		stream = append(stream, e4(byte(i), byte(i+1), i%2 == 0, uint32(100+i))...)
	}
	port := &fakePort{data: stream, chunk: 7}

	src, err := Open(Config{Path: "/dev/ttyUSB0", Format: FormatE4, Opener: port.opener()})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", port.openPath)
	assert.Equal(t, DefaultBaudRate, port.openMode.BaudRate)
	assert.Equal(t, 100*time.Millisecond, port.timeout)
	assert.Equal(t, "!E4\nE+\n", port.commands())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 50; i++ {
		ev, err := src.Next(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 100+i, ev.Timestamp)
		assert.EqualValues(t, i, ev.X)
	}

	require.NoError(t, src.Close())
	assert.Equal(t, "!E4\nE+\nE-\n", port.commands())
	_, err = src.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestSourceTimeLimit(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := &fakePort{}
	src, err := Open(Config{Path: "/dev/ttyACM0", Format: FormatE4, TimeLimit: 5 * time.Second, Clock: clock, Opener: port.opener()})
	require.NoError(t, err)
	defer src.Close()

	clock.Advance(5 * time.Second)
	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestSourceReadError(t *testing.T) {
	port := &fakePort{readErr: errors.New("device unplugged")}
	src, err := Open(Config{Path: "/dev/ttyACM0", Opener: port.opener()})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, dvs.ErrTransport)
	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)

	_, err = Open(Config{Path: "/dev/x", Format: Format(1)})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)

	_, err = Open(Config{Path: "/dev/x", Options: PortOptions{Parity: "Q"}})
	assert.ErrorIs(t, err, dvs.ErrConfiguration)

	_, err = Open(Config{Path: "/dev/x", Opener: func(string, *serial.Mode) (Port, error) {
		return nil, &serial.PortError{}
	}})
	assert.ErrorIs(t, err, dvs.ErrTransport)
}
