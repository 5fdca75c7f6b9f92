package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/command"
	"github.com/brewlab/brewctl/src/engine"
)

const maxCommandBody = 4096

// HTTPServer accepts command lines and serves status and metrics
type HTTPServer struct {
	requests chan<- engine.Request
	snapshot func() *engine.Snapshot
	log      *zap.SugaredLogger
	mux      *http.ServeMux
}

func NewHTTPServer(
	requests chan<- engine.Request,
	snapshot func() *engine.Snapshot,
	gatherer prometheus.Gatherer,
	log *zap.SugaredLogger,
) *HTTPServer {
	s := &HTTPServer{
		requests: requests,
		snapshot: snapshot,
		log:      log,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /command", s.handleCommand)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// commandLine reads the cmd form value, falling back to the raw body
func commandLine(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		return strings.TrimSpace(r.FormValue("cmd")), nil
	}
	if cmd := r.URL.Query().Get("cmd"); cmd != "" {
		return strings.TrimSpace(cmd), nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(body))
	line = strings.TrimPrefix(line, "cmd=")
	return strings.TrimSpace(line), nil
}

func (s *HTTPServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	line, err := commandLine(w, r)
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if line == "" {
		http.Error(w, "Bad Request: missing or empty 'cmd'", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	adm, err := engine.Send(ctx, s.requests, line)
	if err != nil {
		s.log.Warnf("HTTP: command %q not submitted: %v", line, err)
		http.Error(w, "control loop unavailable", http.StatusServiceUnavailable)
		return
	}

	status := http.StatusOK
	switch {
	case errors.Is(adm.Err, command.ErrQueueFull):
		status = http.StatusServiceUnavailable
	case adm.Err != nil:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, newCommandResult(line, adm))
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshot()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpServerWorker serves until ctx is cancelled
func httpServerWorker(ctx context.Context, addr string, handler http.Handler, log *zap.SugaredLogger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("HTTP: listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("HTTP: server error: %v", err)
		return
	}
	log.Infof("HTTP: server stopped")
}
