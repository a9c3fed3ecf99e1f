package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/eventstream/internal/monitoring"
	"github.com/banshee-data/eventstream/internal/timeutil"
)

// PacketStats counts received datagrams between log reports.
type PacketStats struct {
	clock timeutil.Clock

	mu        sync.Mutex
	packets   int64
	bytes     int64
	events    int64
	malformed int64
	dropped   int64
	lastReset time.Time
	latest    StatsSnapshot
}

// NewPacketStats returns stats timed by clock. A nil clock uses the real one.
func NewPacketStats(clock timeutil.Clock) *PacketStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketStats{clock: clock, lastReset: clock.Now()}
}

func (ps *PacketStats) AddPacket(bytes, events int) {
	ps.mu.Lock()
	ps.packets++
	ps.bytes += int64(bytes)
	ps.events += int64(events)
	ps.mu.Unlock()
}

func (ps *PacketStats) AddMalformed() {
	ps.mu.Lock()
	ps.malformed++
	ps.mu.Unlock()
}

// AddDropped counts a datagram the forwarder could not queue.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	ps.dropped++
	ps.mu.Unlock()
}

// StatsSnapshot is one reporting interval.
type StatsSnapshot struct {
	Packets   int64
	Bytes     int64
	Events    int64
	Malformed int64
	Dropped   int64
	Duration  time.Duration
}

// GetAndReset returns the counters since the last reset and zeroes them.
func (ps *PacketStats) GetAndReset() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := ps.clock.Now()
	s := StatsSnapshot{
		Packets:   ps.packets,
		Bytes:     ps.bytes,
		Events:    ps.events,
		Malformed: ps.malformed,
		Dropped:   ps.dropped,
		Duration:  now.Sub(ps.lastReset),
	}
	ps.packets, ps.bytes, ps.events, ps.malformed, ps.dropped = 0, 0, 0, 0, 0
	ps.lastReset = now
	ps.latest = s
	return s
}

// Latest returns the most recently reset interval.
func (ps *PacketStats) Latest() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.latest
}

// Rates converts the interval into per-second figures.
func (s StatsSnapshot) Rates() (packetsPerSec, mbPerSec, eventsPerSec float64) {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	return float64(s.Packets) / secs, float64(s.Bytes) / secs / (1024 * 1024), float64(s.Events) / secs
}

// LogStats reports per-second rates. Idle intervals are not logged.
func (ps *PacketStats) LogStats() {
	s := ps.GetAndReset()
	if s.Packets == 0 && s.Malformed == 0 && s.Dropped == 0 {
		return
	}
	pps, mbps, eps := s.Rates()
	msg := fmt.Sprintf("event stats (/sec): %.2f MB, %.1f packets, %s events",
		mbps, pps, FormatWithCommas(int64(eps)))
	if s.Malformed > 0 {
		msg += fmt.Sprintf(", %d malformed", s.Malformed)
	}
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", s.Dropped)
	}
	monitoring.Logf("%s", msg)
}

// FormatWithCommas formats n with thousands separators.
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	out := make([]byte, 0, len(str)+len(str)/3)
	for i := 0; i < len(str); i++ {
		if i > 0 && (len(str)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, str[i])
	}
	return string(out)
}
