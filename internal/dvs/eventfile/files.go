package eventfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/eventstream/internal/dvs"
)

// Kind is a recording format.
type Kind int

const (
	KindStdio Kind = iota
	KindText
	KindContainer
	// KindSQLite is recognised here but served by the store package.
	KindSQLite
)

func (k Kind) String() string {
	switch k {
	case KindStdio:
		return "stdio"
	case KindText:
		return "text"
	case KindContainer:
		return "evz"
	case KindSQLite:
		return "sqlite"
	}
	return "unknown"
}

// KindForPath picks the format from the file extension.
func KindForPath(path string) (Kind, error) {
	if path == "" || path == "-" {
		return KindStdio, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".csv":
		return KindText, nil
	case ".evz":
		return KindContainer, nil
	case ".db", ".sqlite", ".sqlite3":
		return KindSQLite, nil
	case ".aedat4", ".aedat":
		return 0, &dvs.UnsupportedBackendError{Backend: "aedat4", Hint: "convert the recording to .evz or .txt"}
	}
	return 0, dvs.Configf("output", "unsupported file extension %q", filepath.Ext(path))
}

// SinkOptions tunes file sinks.
type SinkOptions struct {
	// Polarity adds a polarity column to text output.
	Polarity bool
	Header   ContainerHeader
	// Stdout and Summary replace os.Stdout and os.Stderr for "-".
	Stdout  io.Writer
	Summary io.Writer
}

// OpenSink creates the file at path in the format its extension selects.
func OpenSink(path string, opts SinkOptions) (dvs.Sink, error) {
	kind, err := KindForPath(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindStdio:
		s := NewStdoutSink(opts.Stdout, opts.Summary)
		s.Polarity = opts.Polarity
		return s, nil
	case KindSQLite:
		return nil, dvs.Configf("output", "%s is a database; open it with the store package", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, &dvs.TransportError{Op: "create " + path, Err: err}
	}
	if kind == KindText {
		s := NewTextSink(f, f)
		s.Polarity = opts.Polarity
		return s, nil
	}
	s, err := NewContainerSink(f, f, opts.Header)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// OpenSource opens the recording at path. "-" reads text from stdin.
func OpenSource(path string) (dvs.Source, error) {
	kind, err := KindForPath(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindStdio:
		return NewTextSource(os.Stdin, nil, "stdin"), nil
	case KindSQLite:
		return nil, dvs.Configf("input", "%s is a database; open it with the store package", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	if kind == KindText {
		return NewTextSource(f, f, path), nil
	}
	src, err := NewContainerSource(f, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}
