package serialdvs

import (
	"strings"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

// Format is an eDVS event output format, selected on the device with "!E<n>".
type Format int

const (
	// FormatE0 sends address only. Timestamps come from the host clock.
	FormatE0 Format = 0
	// FormatE2 appends a 16-bit microsecond timestamp.
	FormatE2 Format = 2
	// FormatE3 appends a 24-bit microsecond timestamp.
	FormatE3 Format = 3
	// FormatE4 appends a 32-bit microsecond timestamp.
	FormatE4 Format = 4
)

// SensorSize is the eDVS128 pixel grid edge.
const SensorSize = 128

// ParseFormat accepts "E0", "e4", "4" and so on.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "E") {
	case "", "0":
		return FormatE0, nil
	case "2":
		return FormatE2, nil
	case "3":
		return FormatE3, nil
	case "4":
		return FormatE4, nil
	}
	return 0, dvs.Configf("format", "unsupported eDVS event format %q", s)
}

func (f Format) String() string {
	switch f {
	case FormatE0, FormatE2, FormatE3, FormatE4:
		return "E" + string(rune('0'+int(f)))
	}
	return "E?"
}

// timestampBytes is the big-endian timestamp length following each address.
func (f Format) timestampBytes() int {
	switch f {
	case FormatE2:
		return 2
	case FormatE3:
		return 3
	case FormatE4:
		return 4
	}
	return 0
}

// EventBytes is the encoded size of one event.
func (f Format) EventBytes() int { return 2 + f.timestampBytes() }

// Decoder turns the eDVS byte stream into events. Each event starts with
// 1yyyyyyy pxxxxxxx; p is set for OFF events. A byte without the sync bit
// where an event should start is skipped.
type Decoder struct {
	format Format
	clock  timeutil.Clock
	start  time.Time

	buf      []byte
	last     uint32
	epoch    uint64
	started  bool
	resynced int
}

// NewDecoder returns a decoder for format. E0 timestamps are microseconds
// on clock since the first decoded chunk.
func NewDecoder(format Format, clock timeutil.Clock) *Decoder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Decoder{format: format, clock: clock}
}

// Resynced is the number of bytes skipped to find an event boundary.
func (d *Decoder) Resynced() int { return d.resynced }

// Feed decodes data, appending complete events to dst. Trailing partial
// events are kept for the next call.
func (d *Decoder) Feed(data []byte, dst []dvs.Event) []dvs.Event {
	if d.start.IsZero() {
		d.start = d.clock.Now()
	}
	d.buf = append(d.buf, data...)
	size := d.format.EventBytes()
	tsBytes := d.format.timestampBytes()

	i := 0
	for len(d.buf)-i >= size {
		b0 := d.buf[i]
		if b0&0x80 == 0 {
			i++
			d.resynced++
			continue
		}
		b1 := d.buf[i+1]
		ev := dvs.Event{
			X:        uint16(b1 & 0x7F),
			Y:        uint16(b0 & 0x7F),
			Polarity: b1&0x80 == 0,
		}
		if tsBytes == 0 {
			ev.Timestamp = timeutil.Micros(d.clock.Since(d.start))
		} else {
			var raw uint32
			for _, b := range d.buf[i+2 : i+size] {
				raw = raw<<8 | uint32(b)
			}
			ev.Timestamp = d.unwrap(raw, tsBytes)
		}
		dst = append(dst, ev)
		i += size
	}
	d.buf = append(d.buf[:0], d.buf[i:]...)
	return dst
}

// unwrap extends a wrapping device counter into a monotonic timestamp.
func (d *Decoder) unwrap(raw uint32, width int) uint64 {
	period := uint64(1) << (8 * width)
	if d.started && raw < d.last {
		d.epoch += period
	}
	d.started = true
	d.last = raw
	return d.epoch + uint64(raw)
}
