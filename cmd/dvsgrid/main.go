// Command dvsgrid accumulates UDP event datagrams into a per-pixel count grid
// and serves the latest snapshot over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/eventstream/internal/config"
	"github.com/banshee-data/eventstream/internal/dvs"
	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
	"github.com/banshee-data/eventstream/internal/dvs/monitor"
	"github.com/banshee-data/eventstream/internal/dvs/network"
	"github.com/banshee-data/eventstream/internal/dvs/pipeline"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/monitoring"
	"github.com/banshee-data/eventstream/internal/timeutil"
	"github.com/banshee-data/eventstream/internal/version"
)

func main() {
	o := newFlagSet(os.Stderr)
	cfg, err := o.parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}
	if o.version {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(o.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := newGrid(cfg, o, gridDeps{})
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()

	if err := g.run(ctx, ticker.C()); err != nil {
		log.Fatalf("dvsgrid: %v", err)
	}
	log.Printf("dvsgrid stopped after %d snapshots", g.loop.taken)
}

// gridDeps replaces the socket layer and clock in tests.
type gridDeps struct {
	sockets network.UDPSocketFactory
	dialer  network.Dialer
	clock   timeutil.Clock
}

type grid struct {
	acc        *accumulator.Accumulator
	stats      *network.PacketStats
	listener   *network.Listener
	forwarder  *network.PacketForwarder
	ws         *monitor.WebServer
	ledger     *store.Store
	loop       *snapshotLoop
	clock      timeutil.Clock
	interval   time.Duration
	runID      string
	listenAddr string
}

func newGrid(cfg *config.PipelineConfig, o *options, deps gridDeps) (*grid, error) {
	if deps.clock == nil {
		deps.clock = timeutil.RealClock{}
	}
	interval := cfg.GetSnapshotInterval()
	if interval <= 0 {
		return nil, dvs.Configf("snapshot_interval", "must be positive, got %v", interval)
	}
	storage, err := accumulator.StorageByName(cfg.GetStorage())
	if err != nil {
		return nil, err
	}
	acc, err := accumulator.New(cfg.GetWidth(), cfg.GetHeight(), storage)
	if err != nil {
		return nil, err
	}

	g := &grid{
		acc:      acc,
		stats:    network.NewPacketStats(deps.clock),
		clock:    deps.clock,
		interval: interval,
		runID:    o.runID,

		listenAddr: cfg.GetListenAddress(),
	}
	if g.runID == "" {
		g.runID = pipeline.NewRunID()
	}

	if o.forwardAddr != "" {
		g.forwarder, err = network.NewPacketForwarder(o.forwardAddr, deps.dialer, 0, g.stats, o.logInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create forwarder: %w", err)
		}
	}
	g.listener, err = network.NewListener(network.ListenerConfig{
		Address:          cfg.GetListenAddress(),
		RcvBuf:           o.rcvBuf,
		LogInterval:      o.logInterval,
		IncludeTimestamp: cfg.GetIncludeTimestamp(),
		Sink:             acc,
		Stats:            g.stats,
		Forwarder:        g.forwarder,
		SocketFactory:    deps.sockets,
	})
	if err != nil {
		g.close()
		return nil, err
	}

	if path := cfg.GetDBPath(); path != "" {
		g.ledger, err = store.Open(path)
		if err != nil {
			g.close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	g.ws, err = monitor.NewWebServer(monitor.WebServerConfig{
		Address:    cfg.GetHTTPAddress(),
		UDPAddress: cfg.GetListenAddress(),
		Stats:      g.stats,
		Store:      g.ledger,
	})
	if err != nil {
		g.close()
		return nil, err
	}

	g.loop = &snapshotLoop{
		acc:     acc,
		publish: g.ws.Publish,
		archive: g.ledger,
		runID:   g.runID,
		every:   cfg.GetArchiveEvery(),
	}
	log.Printf("accumulating %dx%d (%s storage) from %s, snapshot every %v",
		cfg.GetWidth(), cfg.GetHeight(), storage.Name(), cfg.GetListenAddress(), interval)
	return g, nil
}

// run drives the listener, the monitor and the snapshot loop until ctx is
// done or one of them fails.
func (g *grid) run(ctx context.Context, ticks <-chan time.Time) (err error) {
	defer g.close()

	if g.ledger != nil {
		w, h := g.acc.Shape()
		if err := g.ledger.StartRun(ctx, store.Run{
			ID:        g.runID,
			Input:     "udp:" + g.listenAddr,
			Output:    "grid",
			Transform: "no_trans",
			Width:     w,
			Height:    h,
			OutWidth:  w,
			OutHeight: h,
		}); err != nil {
			return err
		}
		defer func() {
			added := g.acc.Stats().Added
			if ferr := g.ledger.FinishRun(context.Background(), g.runID, added, added, err); ferr != nil {
				log.Printf("failed to finish run %s: %v", g.runID, ferr)
			}
		}()
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := g.listener.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	eg.Go(func() error { return g.ws.Start(gctx) })
	eg.Go(func() error { return g.loop.run(gctx, ticks) })
	return eg.Wait()
}

func (g *grid) close() {
	if g.forwarder != nil {
		g.forwarder.Close()
	}
	if g.ledger != nil {
		g.ledger.Close()
	}
}
