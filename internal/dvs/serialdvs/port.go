package serialdvs

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port the source uses. A read that times out
// returns 0, nil.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens the device at path.
type Opener func(path string, mode *serial.Mode) (Port, error)

// OpenSerial is the default Opener.
func OpenSerial(path string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}
