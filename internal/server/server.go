package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/artigo/echolens/internal/audio"
	"github.com/artigo/echolens/internal/config"
	"github.com/artigo/echolens/internal/metrics"
	"github.com/artigo/echolens/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Server is the read-only HTTP status surface of a running recorder
type Server struct {
	service service.Service
	metrics *metrics.Collector
	logger  *zap.SugaredLogger
	addr    string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Details *service.Status `json:"details"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Sources []audio.Source `json:"sources"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files           []service.RecordingFile `json:"files"`
	TotalCount      int                     `json:"total_count"`
	OutputDirectory string                  `json:"output_directory"`
}

// ConfigResponse represents the JSON response for the config endpoint
type ConfigResponse struct {
	Config *config.Config `json:"config"`
}

// New creates a server for svc listening on addr. collector may be nil, in which
// case /metrics is not served.
func New(svc service.Service, collector *metrics.Collector, logger *zap.SugaredLogger, addr string) *Server {
	return &Server{
		service: svc,
		metrics: collector,
		logger:  logger.Named("server"),
		addr:    addr,
	}
}

// Router builds the HTTP handler with all routes
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(s.observe)

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.Get("/status", s.handleStatus)
	router.Get("/sources", s.handleSources)
	router.Get("/config", s.handleConfig)
	router.Route("/api/files", func(r chi.Router) {
		r.Get("/", s.handleFiles)
		r.Get("/download/{name}", s.handleFileDownload)
	})

	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("Starting status server", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("Status server did not shut down cleanly", "error", err)
		}
		s.logger.Debug("Status server stopped")
		return nil
	}
}

// observe records request metrics under the matched route pattern
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
		}
		s.logger.Debugw("HTTP request", "method", r.Method, "route", route, "status", ww.Status(),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}

// handleStatus returns the recorder state and active sessions
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.GetStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  string(status.State),
		Message: statusMessage(status),
		Details: status,
	})
}

func statusMessage(status *service.Status) string {
	switch status.State {
	case service.StateRecording:
		if len(status.Sessions) == 1 {
			return fmt.Sprintf("Recording %s for %s", status.Sessions[0].MicName, status.Sessions[0].TriggerApp)
		}
		return fmt.Sprintf("Recording %d microphones", len(status.Sessions))
	case service.StateWatching:
		return fmt.Sprintf("Watching %d microphones", len(status.Microphones))
	default:
		return "Recorder is not running"
	}
}

// handleSources lists microphones present in the graph
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.service.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sources == nil {
		sources = []audio.Source{}
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Sources: sources})
}

// handleConfig returns the effective configuration
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConfigResponse{Config: s.service.GetConfig()})
}

// handleFiles lists saved recordings
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.ListRecordings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, FilesResponse{
		Files:           files,
		TotalCount:      len(files),
		OutputDirectory: s.service.GetConfig().Output.Directory,
	})
}

// handleFileDownload serves a recording or transcript as an attachment
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := s.service.RecordingPath(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "File not found")
		} else {
			writeError(w, http.StatusBadRequest, "Invalid filename")
		}
		return
	}

	file, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error accessing file")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error accessing file")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
