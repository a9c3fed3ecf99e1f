package serialdvs

import (
	"bytes"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakePort serves canned bytes in fixed-size chunks, then times out.
type fakePort struct {
	mu       sync.Mutex
	data     []byte
	chunk    int
	written  bytes.Buffer
	timeout  time.Duration
	readErr  error
	closed   bool
	openPath string
	openMode *serial.Mode
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(p.data) == 0 {
		err := p.readErr
		p.readErr = nil
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := p.chunk
	if n <= 0 || n > len(p.data) {
		n = len(p.data)
	}
	n = copy(b, p.data[:n])
	p.data = p.data[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) commands() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakePort) opener() Opener {
	return func(path string, mode *serial.Mode) (Port, error) {
		p.openPath = path
		p.openMode = mode
		return p, nil
	}
}
