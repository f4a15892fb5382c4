package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/metrics"
)

// Version is reported by /health; set by the binary at startup
var Version = "dev"

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	lifecycle Lifecycle
	mux       *http.ServeMux
	server    *http.Server
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(lc Lifecycle) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		lifecycle: lc,
		mux:       mux,
	}

	mux.HandleFunc("/health", getOnly(hs.healthHandler))
	mux.HandleFunc("/ready", getOnly(hs.readyHandler))
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	hs.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return hs
}

// Start serves the health endpoints on addr until Shutdown
func (hs *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := hs.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// HealthResponse is the /health body
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the /ready body. Ready requires a lifecycle manager and
// every critical component reported healthy.
type ReadyResponse struct {
	Ready      bool                `json:"ready"`
	Timestamp  time.Time           `json:"timestamp"`
	Subarrays  int                 `json:"subarrays"`
	Active     int                 `json:"active"`
	Waiting    []string            `json:"waiting,omitempty"`
	Components []metrics.Component `json:"components"`
	Uptime     string              `json:"uptime"`
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// healthHandler answers 200 while the process is up
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

// readyHandler answers 200 once activations can be served
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness := metrics.Readiness()
	resp := ReadyResponse{
		Ready:      readiness.Ready,
		Timestamp:  time.Now(),
		Waiting:    readiness.Waiting,
		Components: readiness.Components,
		Uptime:     readiness.Uptime,
	}

	if hs.lifecycle == nil {
		resp.Ready = false
		resp.Waiting = append([]string{"lifecycle"}, resp.Waiting...)
	} else {
		for _, report := range hs.lifecycle.List() {
			resp.Subarrays++
			if report.State.Active() {
				resp.Active++
			}
		}
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
