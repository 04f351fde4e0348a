// Package api provides the HTTP API for observing the village.
// All endpoints are read-only; the scheduler is the only writer.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/jpkarvonen/villaged/internal/sim"
	"github.com/jpkarvonen/villaged/internal/store"
)

// Server serves the village state over HTTP.
type Server struct {
	Store *store.Store
	Sched *sim.Scheduler
	Port  int

	started  time.Time
	upgrader websocket.Upgrader
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	s.started = time.Now()
	s.upgrader = websocket.Upgrader{
		// Read-only observation; any origin may watch.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	liveLimiter := NewRateLimiter(30, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/npcs", s.handleNPCs)
	mux.HandleFunc("/api/v1/npc/", s.handleNPCDetail)
	mux.HandleFunc("/api/v1/places", s.handlePlaces)
	mux.HandleFunc("/api/v1/relationships", s.handleRelationships)
	mux.HandleFunc("/api/v1/ambient", s.handleAmbient)
	mux.HandleFunc("/api/v1/live", RateLimitMiddleware(liveLimiter, s.handleLive))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr)

	go func() {
		handler := corsMiddleware(mux)
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra allowed origins;
// localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tick := s.Sched.Tick()
	events, err := s.Store.CountEvents()
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	npcs, err := s.Store.NPCs()
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"state":      s.Sched.State(),
		"next_tick":  tick,
		"sim_time":   s.Sched.SimTime(tick).Format(time.RFC3339),
		"events":     events,
		"population": len(npcs),
		"started":    humanize.Time(s.started),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := s.Store.RecentEvents(limit)
	if err != nil {
		http.Error(w, "events unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleNPCs(w http.ResponseWriter, r *http.Request) {
	npcs, err := s.Store.NPCs()
	if err != nil {
		http.Error(w, "npcs unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, npcs)
}

func (s *Server) handleNPCDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/npc/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "bad npc id", http.StatusBadRequest)
		return
	}

	npc, ok, err := s.Store.NPC(id)
	if err != nil {
		http.Error(w, "npc unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "npc not found", http.StatusNotFound)
		return
	}

	memories, err := s.Store.MemoriesFor(id, 20)
	if err != nil {
		http.Error(w, "npc unavailable", http.StatusInternalServerError)
		return
	}
	goals, err := s.Store.GoalsFor(id)
	if err != nil {
		http.Error(w, "npc unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"profile":  npc,
		"memories": memories,
		"goals":    goals,
	})
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	places, err := s.Store.Places()
	if err != nil {
		http.Error(w, "places unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, places)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	edges, err := s.Store.Edges()
	if err != nil {
		http.Error(w, "relationships unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, edges)
}

func (s *Server) handleAmbient(w http.ResponseWriter, r *http.Request) {
	simTS := s.Sched.SimTime(s.Sched.Tick())
	active, err := s.Store.ActiveAmbient(simTS)
	if err != nil {
		http.Error(w, "ambient unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, active)
}

// handleLive upgrades to a websocket and tails the event log. History is
// available over /api/v1/events; the feed only carries what happens next.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	cursor, err := s.Store.LatestEventRowID()
	if err != nil {
		slog.Error("live feed cursor", "error", err)
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, last, err := s.Store.EventsAfter(cursor, 200)
			if err != nil {
				slog.Error("live feed query failed", "error", err)
				return
			}
			cursor = last
			for _, ev := range events {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}
}
