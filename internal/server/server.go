// Package server provides the HTTP surface of echosight.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/echosight/internal/app"
	"github.com/ayusman/echosight/internal/metrics"
	"github.com/ayusman/echosight/internal/server/api"
	"github.com/ayusman/echosight/internal/store"
)

// Controller is the part of the running loop the server reads and steers.
type Controller interface {
	Status() app.Status
	SetAlertsEnabled(enabled bool)
}

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Controller Controller
	Metrics    *metrics.Metrics
	Store      *store.Store
	Widths     api.WidthSetter
	Logger     *zap.SugaredLogger
}

// Server represents the HTTP server. It also observes the loop so frames
// and events reach stream and websocket clients.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	frames *hub
	events *hub

	mu   sync.Mutex
	http *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}

	var onChange func(int)
	if config.Metrics != nil {
		onChange = func(int) {
			config.Metrics.StreamClients.Set(float64(s.frames.count() + s.events.count()))
		}
	}
	s.frames = newHub(onChange)
	s.events = newHub(onChange)

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/api/stream", newStreamHandler(s.frames))
	s.mux.Handle("/api/events", newEventsHandler(s.events, s.config.Logger))

	if s.config.Controller != nil {
		s.mux.HandleFunc("/api/status", s.handleStatus)
		s.mux.HandleFunc("/api/alerts", s.handleAlerts)
	}

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	if s.config.Store != nil {
		calibration := api.NewCalibrationHandler(s.config.Store, s.config.Widths)
		s.mux.Handle("/api/calibration", calibration)
		s.mux.Handle("/api/calibration/", calibration)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ObserveFrame publishes an annotated frame to stream clients. The frame is
// only encoded when someone is watching.
func (s *Server) ObserveFrame(frame *gocv.Mat) {
	if s.frames.count() == 0 {
		return
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		s.config.Logger.Debugw("encode stream frame failed", "error", err)
		return
	}
	defer buf.Close()

	// GetBytes aliases native memory that Close frees
	jpeg := append([]byte(nil), buf.GetBytes()...)
	s.frames.publish(jpeg)
}

// ObserveEvent publishes a new-object event to websocket clients.
func (s *Server) ObserveEvent(ev app.Event) {
	if s.events.count() == 0 {
		return
	}

	msg, err := json.Marshal(ev)
	if err != nil {
		s.config.Logger.Warnw("encode event failed", "error", err)
		return
	}
	s.events.publish(msg)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}

	writeJSON(w, http.StatusOK, response)
}

// handleStatus handles GET requests to /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.config.Controller.Status())
}

// handleAlerts handles POST /api/alerts. A body of {"enabled": bool} sets
// the state; an empty body toggles it.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	enabled := !s.config.Controller.Status().AlertsEnabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	s.config.Controller.SetAlertsEnabled(enabled)

	writeJSON(w, http.StatusOK, s.config.Controller.Status())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ListenAndServe starts the HTTP server on addr and blocks until it stops.
// It returns nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown ends stream and websocket clients, stops accepting connections
// and waits for handlers until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.frames.close()
	s.events.close()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
