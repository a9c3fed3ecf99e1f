package store

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts SQL browsing and run listings under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Event DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Recent pipeline runs (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := s.ListRuns(r.Context(), limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to list runs: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, runs)
	}))

	debug.Handle("snapshots", "Archived accumulator snapshots (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		snaps, err := s.ListSnapshots(r.Context(), r.URL.Query().Get("run"), limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to list snapshots: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, snaps)
	}))
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
