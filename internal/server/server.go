// Replica HTTP server exposing the state replication contract
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"migbench/internal/state"
)

// Server serves the replica state contract: /health, /ingest, /state,
// /state_meta and /pull_state.
type Server struct {
	store  *Store
	router *chi.Mux
	// peer is used by /pull_state to fetch from the source replica.
	peer *http.Client
}

// New creates a replica server for the given server name.
func New(serverName string) *Server {
	s := &Server{
		store: NewStore(serverName),
		peer:  &http.Client{Timeout: 5 * time.Second},
	}
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/ingest", s.handleIngest)
	r.Get("/state", s.handleStateGet)
	r.Post("/state", s.handleStatePost)
	r.Get("/state_meta", s.handleStateMeta)
	r.Post("/pull_state", s.handlePullState)
	s.router = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Store exposes the underlying state store, mainly for tests.
func (s *Server) Store() *Store { return s.store }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "server": s.store.Meta().Server})
}

type ingestRequest struct {
	Seq  int     `json:"seq"`
	TS   float64 `json:"ts"`
	Size int     `json:"size"`
	Blob string  `json:"blob"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid ingest payload", err)
		return
	}
	counter, _ := s.store.Ingest(req.Seq, req.Blob)
	writeJSON(w, http.StatusOK, map[string]any{"ack": true, "seq": req.Seq, "counter": counter})
}

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleStatePost(w http.ResponseWriter, r *http.Request) {
	var in state.Snapshot
	in.LastSeq = -1 // missing last_seq must not regress the local value
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot", err)
		return
	}
	s.store.Merge(in)
	writeJSON(w, http.StatusOK, map[string]any{"imported": true})
}

func (s *Server) handleStateMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Meta())
}

type pullStateRequest struct {
	SourceURL           string `json:"source_url"`
	MinCounterExclusive *int   `json:"min_counter_exclusive,omitempty"`
	MaxCounterInclusive *int   `json:"max_counter_inclusive,omitempty"`
}

// handlePullState fetches /state directly from the source replica, filters
// blob entries to the requested counter range, and merges the result
// locally. Pulling directly avoids relaying the payload through the
// orchestrator.
func (s *Server) handlePullState(w http.ResponseWriter, r *http.Request) {
	var req pullStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pull_state payload", err)
		return
	}
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "source_url is required", nil)
		return
	}

	resp, err := s.peer.Get(req.SourceURL + "/state")
	if err != nil {
		writeError(w, http.StatusBadGateway, "source fetch failed", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, "source returned "+resp.Status, nil)
		return
	}

	src := state.New("")
	if err := json.NewDecoder(resp.Body).Decode(&src); err != nil {
		writeError(w, http.StatusBadGateway, "invalid source snapshot", err)
		return
	}

	filtered := src.FilterRange(req.MinCounterExclusive, req.MaxCounterInclusive)
	destCounter := s.store.Merge(filtered)

	// Size accounting counts the payload chunks that moved, not the
	// JSON envelope around them.
	writeJSON(w, http.StatusOK, map[string]any{
		"imported":         true,
		"state_size_bytes": filtered.BlobBytes(),
		"source_counter":   src.Counter,
		"dest_counter":     destCounter,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]any{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	writeJSON(w, status, body)
}
