package grpcstream

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/monitoring"
)

// Config configures a Publisher.
type Config struct {
	// ListenAddr is used by Start, e.g. "localhost:50051".
	ListenAddr string
	// BatchSize is the number of events per message.
	BatchSize int
	// ClientQueue is the number of batches buffered per subscriber before
	// batches for that subscriber are dropped.
	ClientQueue int
	MaxClients  int
}

// DefaultConfig returns the publisher defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  "localhost:50051",
		BatchSize:   512,
		ClientQueue: 64,
		MaxClients:  8,
	}
}

type client struct {
	id   string
	name string
	ch   chan []byte
}

// Publisher is a dvs.Sink that fans event batches out to gRPC subscribers.
// Write, Flush and Close must be called from one goroutine.
type Publisher struct {
	cfg      Config
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup

	batch   []byte
	pending int

	clientsMu sync.Mutex
	clients   map[string]*client
	closed    bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher registers the service on a new gRPC server. Call Start or
// Serve to accept connections.
func NewPublisher(cfg Config) (*Publisher, error) {
	def := DefaultConfig()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ClientQueue == 0 {
		cfg.ClientQueue = def.ClientQueue
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.BatchSize < 0 || cfg.ClientQueue < 0 || cfg.MaxClients < 0 {
		return nil, dvs.Configf("grpc", "batch size, client queue and client limit must be positive")
	}
	p := &Publisher{
		cfg:     cfg,
		server:  grpc.NewServer(),
		clients: make(map[string]*client),
		batch:   make([]byte, 0, cfg.BatchSize*recordBytes),
	}
	p.server.RegisterService(&serviceDesc, p)
	return p, nil
}

// Start listens on cfg.ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	p.Serve(lis)
	return nil
}

// Serve accepts connections from lis in the background.
func (p *Publisher) Serve(lis net.Listener) {
	p.listener = lis
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("event publisher listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil {
			monitoring.Logf("event publisher stopped: %v", err)
		}
	}()
}

// Addr is the listening address once serving.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

func (p *Publisher) subscribe(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	c, err := p.addClient(req.GetValue())
	if err != nil {
		return err
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-c.ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(wrapperspb.Bytes(batch)); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) addClient(name string) (*client, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.closed {
		return nil, status.Error(codes.Unavailable, "publisher closed")
	}
	if len(p.clients) >= p.cfg.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "client limit %d reached", p.cfg.MaxClients)
	}
	c := &client{id: uuid.NewString(), name: name, ch: make(chan []byte, p.cfg.ClientQueue)}
	p.clients[c.id] = c
	monitoring.Logf("subscriber connected: %s %q (total: %d)", c.id, name, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		monitoring.Logf("subscriber disconnected: %s (remaining: %d)", id, len(p.clients))
	}
}

// Subscribers is the number of connected clients.
func (p *Publisher) Subscribers() int {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	return len(p.clients)
}

// Write queues ev and broadcasts once a batch is full.
func (p *Publisher) Write(ev dvs.Event) error {
	p.batch = EncodeBatch(p.batch, ev)
	p.pending++
	if p.pending >= p.cfg.BatchSize {
		p.broadcast()
	}
	return nil
}

// Flush broadcasts the partial batch.
func (p *Publisher) Flush() error {
	if p.pending > 0 {
		p.broadcast()
	}
	return nil
}

// broadcast hands the batch to every subscriber. A slow subscriber misses
// the batch rather than stalling the pipeline.
func (p *Publisher) broadcast() {
	msg := append([]byte(nil), p.batch...)
	n := uint64(p.pending)
	p.batch = p.batch[:0]
	p.pending = 0

	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.closed {
		return
	}
	for _, c := range p.clients {
		select {
		case c.ch <- msg:
		default:
			p.dropped.Add(n)
		}
	}
	p.published.Add(n)
}

// Stats reports events published and events dropped across subscribers.
func (p *Publisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

// Close flushes, ends every subscriber stream and stops the server.
func (p *Publisher) Close() error {
	p.Flush()

	p.clientsMu.Lock()
	if p.closed {
		p.clientsMu.Unlock()
		return nil
	}
	p.closed = true
	for _, c := range p.clients {
		close(c.ch)
	}
	p.clientsMu.Unlock()

	p.server.GracefulStop()
	p.wg.Wait()
	return nil
}
