package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/lucasnoah/maestro/internal/broadcast"
	"github.com/lucasnoah/maestro/internal/pipeline"
)

// Server exposes the live event channel and a read-only status query.
// The browser dashboard itself is an external collaborator; this server
// only publishes what it needs.
type Server struct {
	store *pipeline.Store
	hub   *broadcast.Hub
	port  int
}

// NewServer creates a Server.
func NewServer(store *pipeline.Store, hub *broadcast.Hub, port int) *Server {
	return &Server{store: store, hub: hub, port: port}
}

// Handler returns the route mux (split out for tests).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Start registers routes and starts listening.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("maestro event channel: http://localhost%s/events", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// handleEvents serves a Server-Sent Events stream of stage-transition
// events. Delivery is best-effort: clients connecting mid-run miss prior
// events, and a slow client is dropped by the hub rather than allowed to
// stall the pipeline.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	events, cancel := s.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				// Dropped by the hub for falling behind.
				fmt.Fprintf(w, "event: done\ndata: dropped\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// StatusEntry is one task in the status response.
type StatusEntry struct {
	Task        string `json:"task"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	FailedStage string `json:"failed_stage,omitempty"`
	FailReason  string `json:"fail_reason,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// handleStatus returns the current state of every known task.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.List("")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entries := make([]StatusEntry, 0, len(tasks))
	for _, ts := range tasks {
		entries = append(entries, StatusEntry{
			Task:        ts.TaskID,
			Status:      ts.Status,
			Stage:       ts.CurrentStage,
			FailedStage: ts.FailedStage,
			FailReason:  ts.FailReason,
			UpdatedAt:   ts.UpdatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}
