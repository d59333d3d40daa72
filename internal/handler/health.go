package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource provides the sync status.
type StatusSource interface {
	Status(ctx context.Context) (*service.StatusReport, error)
}

// Handler contains the health and status handlers.
type Handler struct {
	name      string
	version   string
	cache     Pinger
	status    StatusSource
	startTime time.Time
	logger    *zap.Logger
}

// New creates a new handler. status may be nil.
func New(name, version string, cache Pinger, status StatusSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		name:      name,
		version:   version,
		cache:     cache,
		status:    status,
		startTime: time.Now(),
		logger:    logger.Named("health-handler"),
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready handles GET /api/v1/ready. It fails when the cache store is down,
// since locks and stock records live there.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := []Check{{Name: "api", Status: "ok"}}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	cacheCheck := Check{Name: "cache", Status: "ok"}
	if err := h.cache.Ping(ctx); err != nil {
		cacheCheck.Status = "error"
		cacheCheck.Error = err.Error()
	}
	checks = append(checks, cacheCheck)

	allReady := true
	for _, check := range checks {
		if check.Status != "ok" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// StatusResponse is the unified status used by uptime monitors.
type StatusResponse struct {
	Service       string                `json:"service"`
	Status        string                `json:"status"`
	Timestamp     string                `json:"timestamp"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	MemoryMB      float64               `json:"memory_mb"`
	Sync          *service.StatusReport `json:"sync,omitempty"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	resp := StatusResponse{
		Service:       h.name,
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		MemoryMB:      float64(int(memoryMB*100)) / 100,
	}

	if h.status != nil {
		report, err := h.status.Status(r.Context())
		if err != nil {
			h.logger.Warn("failed to load sync status", zap.Error(err))
			resp.Status = "degraded"
		} else {
			resp.Sync = report
			if report.Stale {
				resp.Status = "stale"
			}
		}
	}

	response.NoStore(w)
	response.OK(w, resp)
}
