// Package httpapi exposes an HTTP status/metrics surface alongside the
// Unix-domain control socket, for operators who want a browser/curl view
// rather than a raw protocol client.
//
// Builds on internal/app/app.go's plain *http.Server field, routed
// here with github.com/gorilla/mux instead of a bare http.ServeMux. The
// routes are /healthz, /stats, and the optional metrics path.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// StatsProvider supplies the live counters the /stats endpoint reports.
type StatsProvider interface {
	// QueueStats returns, per destination name, the current queue
	// length and cumulative dropped count.
	QueueStats() map[string]QueueStat
	// PoolStats returns the worker pool's point-in-time load.
	PoolStats() PoolStat
}

// QueueStat is one destination's durable-queue snapshot.
type QueueStat struct {
	Length  int    `json:"length"`
	Dropped uint64 `json:"dropped"`
}

// PoolStat is the worker pool's point-in-time load.
type PoolStat struct {
	Workers       int   `json:"workers"`
	ActiveWorkers int   `json:"active_workers"`
	QueuedJobs    int   `json:"queued_jobs"`
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

// New builds a Server bound to addr, with routes for /healthz, /stats,
// and (when metricsHandler is non-nil) the Prometheus exposition path.
func New(addr string, stats StatsProvider, metricsPath string, metricsHandler http.Handler, logger *logrus.Logger) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]interface{}{
			"queues": stats.QueueStats(),
			"pool":   stats.PoolStats(),
		})
	}).Methods(http.MethodGet)

	if metricsHandler != nil && metricsPath != "" {
		r.Handle(metricsPath, metricsHandler).Methods(http.MethodGet)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Start runs ListenAndServe in its own goroutine, logging any failure
// other than the expected ErrServerClosed on shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("httpapi: server exited")
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
