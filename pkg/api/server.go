// Package api serves shepherd's HTTP surface: fleet actions, the observer
// websocket, health checks, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/steamfleet/shepherd/pkg/broadcast"
	"github.com/steamfleet/shepherd/pkg/fleet"
	"github.com/steamfleet/shepherd/pkg/log"
	"github.com/steamfleet/shepherd/pkg/metrics"
	"github.com/steamfleet/shepherd/pkg/registry"
	"github.com/steamfleet/shepherd/pkg/types"
)

// Server exposes the fleet over HTTP.
type Server struct {
	fleet    *fleet.Manager
	registry registry.Registry
	mux      *http.ServeMux
	httpSrv  *http.Server
}

// NewServer wires the HTTP routes.
func NewServer(mgr *fleet.Manager, reg registry.Registry, broker *broadcast.Broker) *Server {
	mux := http.NewServeMux()
	s := &Server{
		fleet:    mgr,
		registry: reg,
		mux:      mux,
	}

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /ws", broadcast.Handler(broker))

	mux.HandleFunc("GET /v1/servers", s.listHandler)
	mux.HandleFunc("POST /v1/servers", s.provisionHandler)
	mux.HandleFunc("GET /v1/servers/{name}", s.getHandler)
	mux.HandleFunc("DELETE /v1/servers/{name}", s.decommissionHandler)
	mux.HandleFunc("POST /v1/servers/{name}/start", s.startHandler)
	mux.HandleFunc("POST /v1/servers/{name}/stop", s.stopHandler)
	mux.HandleFunc("POST /v1/servers/{name}/restart", s.restartHandler)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("http server listening")

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the mux for embedding in tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := s.fleet.GetAllStatuses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type provisionRequest struct {
	Name       string   `json:"name"`
	Map        string   `json:"map"`
	ClusterID  string   `json:"cluster_id"`
	MaxPlayers int      `json:"max_players"`
	Mods       []string `json:"mods"`
}

func (s *Server) provisionHandler(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ident, err := s.fleet.Provision(req.Name, req.Map, req.ClusterID, req.MaxPlayers, req.Mods)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ident)
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	ident, err := s.registry.FindByName(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (s *Server) decommissionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.Decommission(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.fleet.Start)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.fleet.Stop)
}

func (s *Server) restartHandler(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.fleet.Restart)
}

func (s *Server) action(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	name := r.PathValue("name")
	if err := fn(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"server": name, "status": "accepted"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case types.IsNotFound(err):
		code = http.StatusNotFound
	case errors.Is(err, types.ErrEngineUnreachable):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
