// Package web provides an HTTP status server for the hub daemon.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/status"
)

const (
	// DefaultReportLimit is how many reports /reports.json returns by default.
	DefaultReportLimit = 50
	// indexReports is how many journaled reports the status page lists.
	indexReports = 10
)

// ReportLister reads recent reports, newest first.
type ReportLister interface {
	Recent(ctx context.Context, remote string, limit int) ([]logic.Report, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	reports    ReportLister
}

// New creates a Server that reads state from the given tracker. reports may
// be nil, in which case /reports.json is not served.
func New(addr string, tracker *status.Tracker, reports ReportLister) *Server {
	s := &Server{tracker: tracker, reports: reports}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if reports != nil {
		mux.HandleFunc("/reports.json", s.handleReports)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	p := page{Snapshot: snap, Uptime: snap.Uptime(), Journal: s.reports != nil}
	if s.reports != nil {
		recent, err := s.reports.Recent(r.Context(), "", indexReports)
		if err != nil {
			log.Printf("web: list reports: %v", err)
		}
		p.Recent = recent
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, p); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// ReportsJSON is the body of /reports.json.
type ReportsJSON struct {
	Reports []ReportJSON `json:"reports"`
}

// ReportJSON is one journaled report.
type ReportJSON struct {
	ID         string   `json:"id"`
	Remote     string   `json:"remote"`
	ReceivedAt string   `json:"received_at"`
	Buttons    []string `json:"buttons"`
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	limit := DefaultReportLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	reports, err := s.reports.Recent(r.Context(), r.URL.Query().Get("remote"), limit)
	if err != nil {
		log.Printf("web: list reports: %v", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}

	out := ReportsJSON{Reports: make([]ReportJSON, len(reports))}
	for i, rep := range reports {
		buttons := make([]string, len(rep.Events))
		for j, e := range rep.Events {
			buttons[j] = e.String()
		}
		out.Reports[i] = ReportJSON{
			ID:         rep.ID,
			Remote:     rep.Remote,
			ReceivedAt: rep.ReceivedAt.UTC().Format(time.RFC3339),
			Buttons:    buttons,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
