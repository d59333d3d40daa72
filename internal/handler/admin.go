package handler

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

// AdminHandler exposes operational stats and the sync history.
type AdminHandler struct {
	cache       cache.Cache
	history     repository.HistoryRepository
	historyType string
	validate    *validator.Validate
	startTime   time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(c cache.Cache, history repository.HistoryRepository, historyType string) *AdminHandler {
	if history == nil {
		history = repository.NoopHistory{}
	}
	return &AdminHandler{
		cache:       c,
		history:     history,
		historyType: historyType,
		validate:    newValidator(),
		startTime:   time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]any)

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["history_type"] = h.historyType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]any{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if err := h.cache.Ping(ctx); err != nil {
		stats["cache"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		stats["cache"] = map[string]any{"status": "connected"}
	}

	lastSuccess := map[string]any{}
	for _, kind := range []model.SyncKind{model.SyncKindStock, model.SyncKindImage} {
		run, err := h.history.LastSuccess(ctx, kind)
		if err != nil {
			lastSuccess[string(kind)] = map[string]any{"error": err.Error()}
			continue
		}
		lastSuccess[string(kind)] = run
	}
	stats["last_success"] = lastSuccess

	stats["runtime"] = map[string]any{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.NoStore(w)
	response.OK(w, stats)
}

type historyQuery struct {
	Kind  string `query:"kind" validate:"omitempty,oneof=stock image"`
	Limit int    `query:"limit" validate:"gte=0,lte=200"`
}

// GetHistory handles GET /api/v1/admin/history?kind=stock|image&limit=n
func (h *AdminHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := historyQuery{Kind: r.URL.Query().Get("kind")}
	var apiErr *apierror.Error
	if q.Limit, apiErr = queryInt(r.URL.Query().Get("limit"), "limit"); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if err := h.validate.Struct(q); err != nil {
		response.Error(w, validationError(err))
		return
	}
	if q.Limit == 0 {
		q.Limit = 20
	}

	runs, err := h.history.Recent(r.Context(), model.SyncKind(q.Kind), q.Limit)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to load sync history"))
		return
	}
	if runs == nil {
		runs = []model.SyncRun{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(runs)))
	response.OK(w, runs)
}
