// Package testutil provides shared fixtures for event pipeline tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Events returns n events sweeping a width×height frame in row order, one
// microsecond apart, with alternating polarity.
func Events(n, width, height int) []dvs.Event {
	out := make([]dvs.Event, n)
	for i := range out {
		out[i] = dvs.Event{
			Timestamp: uint64(i),
			X:         uint16(i % width),
			Y:         uint16((i / width) % height),
			Polarity:  i%2 == 0,
		}
	}
	return out
}

// WriteFile writes body to name under a fresh temp dir and returns the path.
func WriteFile(t testing.TB, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// Eventually polls cond every millisecond until it holds or timeout passes.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
