package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler serves /metrics and /health.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.HealthHandler)
	return mux
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	var connections, sessions int
	err := s.exec(func() {
		connections = len(s.clients)
		sessions = len(s.names)
	})

	health := map[string]interface{}{
		"status":            "healthy",
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"connected_clients": connections,
		"active_sessions":   sessions,
	}
	status := http.StatusOK
	if err != nil {
		health["status"] = "stopped"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.log.Warnf("Error encoding health JSON: %v", err)
	}
}
