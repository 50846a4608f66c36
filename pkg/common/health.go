// Package common provides shared node-level plumbing: the health/debug
// HTTP server and small helpers that do not belong to any one domain.
package common

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arl/statsviz"
)

// HealthServer exposes liveness and readiness endpoints for the worker node,
// plus live Go runtime statistics for debugging.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer creates a health server listening on the default port.
// The ready flag is flipped by the caller once the node finished booting.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	return NewHealthServerOn(":8080", ready)
}

// NewHealthServerOn creates a health server bound to the given address.
func NewHealthServerOn(addr string, ready *atomic.Bool) *HealthServer {
	mux := http.NewServeMux()

	hs := &HealthServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		ready: ready,
	}

	mux.HandleFunc("/v1/health", hs.handleHealth)
	mux.HandleFunc("/v1/readiness", hs.handleReadiness)

	// Runtime stats for debugging scheduling behavior under load.
	_ = statsviz.Register(mux)

	go func() { _ = hs.server.ListenAndServe() }()

	return hs
}

// Server returns the underlying http server so callers can shut it down.
func (hs *HealthServer) Server() *http.Server { return hs.server }

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (hs *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !hs.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
