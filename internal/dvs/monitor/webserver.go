// Package monitor serves the accumulator's latest snapshot and listener
// statistics over HTTP.
package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
	"github.com/banshee-data/eventstream/internal/dvs/network"
	"github.com/banshee-data/eventstream/internal/dvs/store"
	"github.com/banshee-data/eventstream/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

// WebServer handles the HTTP interface of the grid consumer.
type WebServer struct {
	address string
	udpAddr string
	stats   *network.PacketStats
	store   *store.Store
	server  *http.Server
	started time.Time

	mu     sync.RWMutex
	latest accumulator.Snapshot
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	// UDPAddress is shown on the status page only.
	UDPAddress string
	Stats      *network.PacketStats
	// Store, when set, adds run and snapshot history plus SQL debugging.
	Store *store.Store
}

// NewWebServer creates a web server. Routes are registered immediately so
// Handler can be exercised without listening.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address: cfg.Address,
		udpAddr: cfg.UDPAddress,
		stats:   cfg.Stats,
		store:   cfg.Store,
		started: time.Now(),
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the route multiplexer.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Publish makes snap the snapshot served by the heatmap routes.
func (ws *WebServer) Publish(snap accumulator.Snapshot) {
	ws.mu.Lock()
	ws.latest = snap
	ws.mu.Unlock()
}

// Latest returns the last published snapshot.
func (ws *WebServer) Latest() accumulator.Snapshot {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.latest
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("http server: %w", err)
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/snapshot", ws.handleSnapshot)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/heatmap", ws.handleHeatmapChart)
	mux.HandleFunc("/heatmap.png", ws.handleHeatmapPNG)
	mux.HandleFunc("/traffic", ws.handleTrafficChart)

	if ws.store != nil {
		if err := ws.store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	} else {
		tsweb.Debugger(mux)
	}
	return mux, nil
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("monitor: encode response: %v", err)
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "dvsgrid", "version": %q, "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap := ws.Latest()
	var stats *network.StatsSnapshot
	if ws.stats != nil {
		s := ws.stats.Latest()
		stats = &s
	}
	data := struct {
		HTTPAddress string
		UDPAddress  string
		Uptime      string
		Version     string
		HasSnapshot bool
		Snapshot    snapshotSummary
		Stats       *network.StatsSnapshot
		HasStore    bool
	}{
		HTTPAddress: ws.address,
		UDPAddress:  ws.udpAddr,
		Uptime:      time.Since(ws.started).Round(time.Second).String(),
		Version:     version.Version,
		HasSnapshot: !snap.Empty(),
		Snapshot:    summarize(snap),
		Stats:       stats,
		HasStore:    ws.store != nil,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}

type snapshotSummary struct {
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Seq     uint64    `json:"seq"`
	Taken   time.Time `json:"taken"`
	Total   uint64    `json:"total"`
	Max     uint32    `json:"max"`
	Nonzero int       `json:"nonzero"`
}

func summarize(snap accumulator.Snapshot) snapshotSummary {
	s := snapshotSummary{
		Width:  snap.Width,
		Height: snap.Height,
		Seq:    snap.Seq,
		Taken:  snap.Taken,
		Total:  snap.Total(),
		Max:    snap.Max(),
	}
	for _, c := range snap.Counts() {
		if c > 0 {
			s.Nonzero++
		}
	}
	return s
}

// handleSnapshot returns the latest snapshot summary. With counts=1 the grid
// rows are included.
func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	snap := ws.Latest()
	if snap.Empty() {
		ws.writeJSONError(w, http.StatusNotFound, "no snapshot available")
		return
	}
	resp := struct {
		snapshotSummary
		Rows [][]uint32 `json:"rows,omitempty"`
	}{snapshotSummary: summarize(snap)}
	if r.URL.Query().Get("counts") == "1" {
		resp.Rows = snap.Rows()
	}
	ws.writeJSON(w, resp)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if ws.stats == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no packet stats available")
		return
	}
	s := ws.stats.Latest()
	pps, mbps, eps := s.Rates()
	ws.writeJSON(w, map[string]any{
		"packets":         s.Packets,
		"bytes":           s.Bytes,
		"events":          s.Events,
		"malformed":       s.Malformed,
		"dropped":         s.Dropped,
		"interval_ms":     s.Duration.Milliseconds(),
		"packets_per_sec": pps,
		"mb_per_sec":      mbps,
		"events_per_sec":  eps,
	})
}
