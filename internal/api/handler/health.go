package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/iconidentify/streamrelay/internal/worker"
)

var startTime = time.Now()

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	pool *worker.Pool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(pool *worker.Pool) *HealthHandler {
	return &HealthHandler{
		pool: pool,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Pool      *worker.Stats `json:"pool,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. A saturated pool is still
// ready: requests queue or get 503 at submit time, the process is fine.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	stats := h.pool.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Pool:      &stats,
	})
}

// SystemStats contains system resource statistics.
type SystemStats struct {
	Uptime        int64        `json:"uptime_seconds"`
	UptimeHuman   string       `json:"uptime_human"`
	MemAllocMB    int64        `json:"mem_alloc_mb"`
	MemSysMB      int64        `json:"mem_sys_mb"`
	MemHeapMB     int64        `json:"mem_heap_mb"`
	NumGoroutines int          `json:"num_goroutines"`
	NumCPU        int          `json:"num_cpu"`
	Pool          worker.Stats `json:"pool"`
}

// Stats handles GET /api/v1/stats - system statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		MemHeapMB:     int64(m.HeapAlloc / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		Pool:          h.pool.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
