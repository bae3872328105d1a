// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds runtime counters for the coordinator.
type Metrics struct {
	// Dispatch
	WorkerSpawns    atomic.Int64
	WorkerRespawns  atomic.Int64
	SubtasksFailed  atomic.Int64
	SubtasksBlocked atomic.Int64

	// Checkpoint monitor
	Checkpoints   atomic.Int64
	GuidanceSent  atomic.Int64
	StuckObserved atomic.Int64

	// Quality gate
	GateRounds     atomic.Int64
	GateRejections atomic.Int64

	// Graph export
	GraphWrites      atomic.Int64
	GraphWriteErrors atomic.Int64

	// Timing (last dispatch duration in ms)
	LastDispatchDurationMs atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance.
func Global() *Metrics {
	globalOnce.Do(func() {
		global = &Metrics{startTime: time.Now()}
	})
	return global
}

// RecordSpawn records one worker spawn.
func (m *Metrics) RecordSpawn(respawn bool) {
	m.WorkerSpawns.Add(1)
	if respawn {
		m.WorkerRespawns.Add(1)
	}
}

// RecordDispatch records a completed dispatch run.
func (m *Metrics) RecordDispatch(failed, blocked int, durationMs int64) {
	m.SubtasksFailed.Add(int64(failed))
	m.SubtasksBlocked.Add(int64(blocked))
	m.LastDispatchDurationMs.Store(durationMs)
}

// RecordCheckpoint records one checkpoint firing.
func (m *Metrics) RecordCheckpoint(stuck int) {
	m.Checkpoints.Add(1)
	m.StuckObserved.Add(int64(stuck))
}

// RecordGuidance records one guidance message sent to a worker.
func (m *Metrics) RecordGuidance() {
	m.GuidanceSent.Add(1)
}

// RecordGateRound records one gate round and its outcome.
func (m *Metrics) RecordGateRound(approved bool) {
	m.GateRounds.Add(1)
	if !approved {
		m.GateRejections.Add(1)
	}
}

// RecordGraphWrite records a graph export attempt.
func (m *Metrics) RecordGraphWrite(success bool) {
	m.GraphWrites.Add(1)
	if !success {
		m.GraphWriteErrors.Add(1)
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.HandlerFunc {
	type row struct {
		name, help, typ string
		value           string
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		rows := []row{
			{"foreman_uptime_seconds", "Time since foreman started", "gauge",
				fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds())},
			{"foreman_worker_spawns_total", "Total worker spawns", "counter",
				fmt.Sprintf("%d", m.WorkerSpawns.Load())},
			{"foreman_worker_respawns_total", "Total worker respawns after stalls", "counter",
				fmt.Sprintf("%d", m.WorkerRespawns.Load())},
			{"foreman_subtasks_failed_total", "Total subtasks that reached failed status", "counter",
				fmt.Sprintf("%d", m.SubtasksFailed.Load())},
			{"foreman_subtasks_blocked_total", "Total subtasks stranded behind a failed dependency", "counter",
				fmt.Sprintf("%d", m.SubtasksBlocked.Load())},
			{"foreman_checkpoints_total", "Total checkpoint firings", "counter",
				fmt.Sprintf("%d", m.Checkpoints.Load())},
			{"foreman_guidance_sent_total", "Total guidance messages sent to workers", "counter",
				fmt.Sprintf("%d", m.GuidanceSent.Load())},
			{"foreman_stuck_observed_total", "Total stuck classifications across checkpoints", "counter",
				fmt.Sprintf("%d", m.StuckObserved.Load())},
			{"foreman_gate_rounds_total", "Total quality gate rounds", "counter",
				fmt.Sprintf("%d", m.GateRounds.Load())},
			{"foreman_gate_rejections_total", "Total gate rounds ending in changes required", "counter",
				fmt.Sprintf("%d", m.GateRejections.Load())},
			{"foreman_graph_writes_total", "Total graph export operations", "counter",
				fmt.Sprintf("%d", m.GraphWrites.Load())},
			{"foreman_graph_write_errors_total", "Total graph export failures", "counter",
				fmt.Sprintf("%d", m.GraphWriteErrors.Load())},
			{"foreman_last_dispatch_duration_ms", "Last dispatch run duration", "gauge",
				fmt.Sprintf("%d", m.LastDispatchDurationMs.Load())},
		}

		for i, r := range rows {
			fmt.Fprintf(w, "# HELP %s %s\n", r.name, r.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", r.name, r.typ)
			fmt.Fprintf(w, "%s %s\n", r.name, r.value)
			if i < len(rows)-1 {
				fmt.Fprintln(w)
			}
		}
	}
}

// Server wraps the metrics HTTP server.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server on the given address.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", Global().Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start starts the metrics server in the background.
func (s *Server) Start() error {
	go s.srv.ListenAndServe()
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
