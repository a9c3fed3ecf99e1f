package eventfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// TextSink writes one "timestamp,x,y" line per event. With Polarity set a
// fourth 0/1 column is added.
type TextSink struct {
	w        *bufio.Writer
	closer   io.Closer
	Polarity bool
	written  uint64
	line     []byte
}

// NewTextSink writes to w. closer may be nil.
func NewTextSink(w io.Writer, closer io.Closer) *TextSink {
	return &TextSink{w: bufio.NewWriter(w), closer: closer}
}

func (s *TextSink) Write(ev dvs.Event) error {
	s.line = strconv.AppendUint(s.line[:0], ev.Timestamp, 10)
	s.line = append(s.line, ',')
	s.line = strconv.AppendUint(s.line, uint64(ev.X), 10)
	s.line = append(s.line, ',')
	s.line = strconv.AppendUint(s.line, uint64(ev.Y), 10)
	if s.Polarity {
		if ev.Polarity {
			s.line = append(s.line, ",1"...)
		} else {
			s.line = append(s.line, ",0"...)
		}
	}
	s.line = append(s.line, '\n')
	if _, err := s.w.Write(s.line); err != nil {
		return &dvs.TransportError{Op: "write text", Err: err}
	}
	s.written++
	return nil
}

func (s *TextSink) Flush() error {
	if err := s.w.Flush(); err != nil {
		return &dvs.TransportError{Op: "flush text", Err: err}
	}
	return nil
}

// Close flushes buffered lines and closes the underlying file.
func (s *TextSink) Close() error {
	err := s.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil && cerr != nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}

// Written is the number of events written.
func (s *TextSink) Written() uint64 { return s.written }

// TextSource reads "timestamp,x,y[,polarity]" lines. Blank lines and lines
// starting with '#' are skipped. A missing polarity column reads as ON.
type TextSource struct {
	r      *csv.Reader
	closer io.Closer
	name   string
	eof    bool
}

// NewTextSource reads from r. name labels parse errors.
func NewTextSource(r io.Reader, closer io.Closer, name string) *TextSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &TextSource{r: cr, closer: closer, name: name}
}

func (s *TextSource) Next(ctx context.Context) (dvs.Event, error) {
	if s.eof {
		return dvs.Event{}, io.EOF
	}
	if ctx.Err() != nil {
		s.eof = true
		return dvs.Event{}, io.EOF
	}
	record, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		s.eof = true
		return dvs.Event{}, io.EOF
	}
	if err != nil {
		s.eof = true
		return dvs.Event{}, fmt.Errorf("%s: %w", s.name, err)
	}
	ev, err := parseTextRecord(record)
	if err != nil {
		line, _ := s.r.FieldPos(0)
		s.eof = true
		return dvs.Event{}, fmt.Errorf("%s:%d: %w", s.name, line, err)
	}
	return ev, nil
}

func parseTextRecord(record []string) (dvs.Event, error) {
	if len(record) < 3 || len(record) > 4 {
		return dvs.Event{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(record))
	}
	ts, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return dvs.Event{}, fmt.Errorf("timestamp: %w", err)
	}
	x, err := strconv.ParseUint(strings.TrimSpace(record[1]), 10, 16)
	if err != nil {
		return dvs.Event{}, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.ParseUint(strings.TrimSpace(record[2]), 10, 16)
	if err != nil {
		return dvs.Event{}, fmt.Errorf("y: %w", err)
	}
	ev := dvs.Event{Timestamp: ts, X: uint16(x), Y: uint16(y), Polarity: true}
	if len(record) == 4 {
		switch strings.TrimSpace(record[3]) {
		case "1", "true", "+":
		case "0", "false", "-":
			ev.Polarity = false
		default:
			return dvs.Event{}, fmt.Errorf("polarity: invalid value %q", record[3])
		}
	}
	return ev, nil
}

func (s *TextSource) Close() error {
	s.eof = true
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}
