package eventfile

import (
	"fmt"
	"io"
	"os"
)

// StdoutSink prints events as text and reports the total once closed.
type StdoutSink struct {
	*TextSink
	summary io.Writer
	closed  bool
}

// NewStdoutSink writes events to out and the closing summary to summary.
// Nil writers default to os.Stdout and os.Stderr.
func NewStdoutSink(out, summary io.Writer) *StdoutSink {
	if out == nil {
		out = os.Stdout
	}
	if summary == nil {
		summary = os.Stderr
	}
	return &StdoutSink{TextSink: NewTextSink(out, nil), summary: summary}
}

// Close flushes and prints "Sent a total of N events".
func (s *StdoutSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.TextSink.Close()
	fmt.Fprintf(s.summary, "Sent a total of %d events\n", s.Written())
	return err
}
