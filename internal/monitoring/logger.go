// Package monitoring holds the replaceable diagnostic logger shared by the
// pipeline packages.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf;
// SetLogger redirects or mutes it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables Debugf output.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether Debugf output is enabled.
func Verbose() bool { return verbose.Load() }

// Debugf logs through Logf only in verbose mode.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf("[debug] "+format, v...)
	}
}

// Component returns a logger that prefixes every message with name. The
// current Logf is looked up on each call.
func Component(name string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(name+": "+format, v...)
	}
}
