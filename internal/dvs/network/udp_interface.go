package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the receive side of a UDP socket.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens receive sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// UDPWriter is the send side of a connected UDP socket.
type UDPWriter interface {
	Write(b []byte) (int, error)
	Close() error
}

// Dialer opens a connected UDP socket to address ("host:port").
type Dialer func(address string) (UDPWriter, error)

// DialUDP is the default Dialer.
func DialUDP(address string) (UDPWriter, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// RealUDPSocketFactory opens sockets with net.ListenUDP.
type RealUDPSocketFactory struct{}

// ListenUDP opens a UDP socket bound to laddr.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket replays canned datagrams. Once they are exhausted every read
// times out, like an idle socket with a deadline set.
type MockUDPSocket struct {
	mu sync.Mutex

	Packets        []MockUDPPacket
	ReadIndex      int
	Closed         bool
	ReadBufferSize int
	ReadDeadline   time.Time
	LocalAddress   *net.UDPAddr
	// ReadError is returned once by the next read.
	ReadError          error
	// FailReads, while set, is returned by every read.
	FailReads          error
	Reads              int
	SetReadBufferError error
}

// MockUDPPacket is one canned datagram.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket returns a socket that will deliver packets in order.
func NewMockUDPSocket(packets []MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets:      packets,
		LocalAddress: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3333},
	}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	m.Reads++
	if m.Closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if m.FailReads != nil {
		err := m.FailReads
		m.mu.Unlock()
		return 0, nil, err
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	m.mu.Unlock()
	return copy(b, pkt.Data), pkt.Addr, nil
}

// ReadCalls reports how many times ReadFromUDP was called.
func (m *MockUDPSocket) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Reads
}

// Delivered reports how many canned packets have been read.
func (m *MockUDPSocket) Delivered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadIndex
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetReadBufferError != nil {
		return m.SetReadBufferError
	}
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.ReadDeadline = t
	m.mu.Unlock()
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockUDPSocket) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.LocalAddress }

// MockUDPSocketFactory hands out a fixed socket and records listen calls.
type MockUDPSocketFactory struct {
	Socket      *MockUDPSocket
	Error       error
	ListenCalls []MockListenCall
}

// MockListenCall records one ListenUDP call.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.ListenCalls = append(f.ListenCalls, MockListenCall{Network: network, Addr: laddr})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

// MockUDPWriter records written datagrams.
type MockUDPWriter struct {
	mu        sync.Mutex
	Datagrams [][]byte
	// WriteError, when set, fails every write.
	WriteError error
	Closed     bool
}

func (w *MockUDPWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.WriteError != nil {
		return 0, w.WriteError
	}
	w.Datagrams = append(w.Datagrams, append([]byte(nil), b...))
	return len(b), nil
}

func (w *MockUDPWriter) Close() error {
	w.mu.Lock()
	w.Closed = true
	w.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded datagrams.
func (w *MockUDPWriter) Sent() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.Datagrams...)
}

// Dialer returns a Dialer that always hands out w.
func (w *MockUDPWriter) Dialer() Dialer {
	return func(string) (UDPWriter, error) { return w, nil }
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
