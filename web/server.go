// Package web serves the monitor dashboard and its JSON API.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/socket-intents/intent-shim/audit"
	"github.com/socket-intents/intent-shim/detect"
	"github.com/socket-intents/intent-shim/shim"
)

type Server struct {
	db         *audit.DB
	detector   *detect.Detector
	sh         *shim.Shim
	listenAddr string
}

func NewServer(db *audit.DB, detector *detect.Detector, sh *shim.Shim, listenAddr string) *Server {
	return &Server{
		db:         db,
		detector:   detector,
		sh:         sh,
		listenAddr: listenAddr,
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Debug handler that wraps other handlers and logs request details
	debugHandler := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			fmt.Printf("[%s] %s %s\n", time.Now().Format("15:04:05"), r.Method, r.URL.Path)
			h(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", debugHandler(s.handleIndex))
	mux.HandleFunc("/api/registry", debugHandler(s.handleRegistry))
	mux.HandleFunc("/api/events", debugHandler(s.handleEvents))

	if s.detector != nil {
		mux.HandleFunc("/api/matches", debugHandler(s.handleMatches))
	}

	srv := &http.Server{
		Addr:    s.listenAddr,
		Handler: mux,
	}

	fmt.Printf("Starting web server on %s\n", s.listenAddr)

	// Graceful shutdown goroutine
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleIndex serves the main HTML page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	tmpl := template.Must(template.New("index").Parse(indexTemplate))
	data := struct {
		RegistrySize int
		RuleCount    int
	}{
		RegistrySize: s.sh.RegistrySize(),
	}
	if s.detector != nil {
		data.RuleCount = s.detector.RuleCount()
	}
	if err := tmpl.Execute(w, data); err != nil {
		log.Printf("Error executing template: %v", err)
	}
}

type registryRow struct {
	FD      int       `json:"fd"`
	Inert   bool      `json:"inert"`
	Created time.Time `json:"created"`
}

// handleRegistry returns the live descriptor registry.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	entries := s.sh.RegistrySnapshot()
	rows := make([]registryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, registryRow{FD: e.FD, Inert: e.Inert, Created: e.Created})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleEvents returns recent audited socket events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	records, err := s.db.RecentEvents(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleMatches returns recent detection rule hits.
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	matches, err := s.db.RecentMatches(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []audit.Match{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(matches); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}
