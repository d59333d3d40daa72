package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/logger"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

// CronHandler serves the scheduled triggers.
type CronHandler struct {
	runner SyncRunner
	logger *zap.Logger
}

// NewCronHandler creates a cron handler.
func NewCronHandler(runner SyncRunner, logger *zap.Logger) *CronHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronHandler{runner: runner, logger: logger.Named("cron-handler")}
}

// CronResponse is the body of the cron endpoints.
type CronResponse struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
	RunID   string `json:"runId,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// SyncStock handles POST /api/cron/sync-stock. A fresh cache or a held lock
// yield {skipped:true}.
func (h *CronHandler) SyncStock(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.RunScheduled(r.Context(), model.TriggerCron)
	if err != nil {
		logger.For(r.Context(), h.logger).Error("cron stock sync failed", zap.Error(err))
		response.Error(w, apierror.InternalError("stock sync failed"))
		return
	}

	resp := CronResponse{Success: true, Skipped: res.Skipped, Reason: res.Reason, RunID: res.RunID}
	if res.Sync != nil {
		resp.Success = res.Sync.Success()
		resp.Result = res.Sync
	}
	response.Raw(w, http.StatusOK, resp)
}

// SyncImages handles POST /api/cron/sync-images.
func (h *CronHandler) SyncImages(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.RunImages(r.Context(), model.TriggerCron)
	if errors.Is(err, service.ErrSyncInProgress) {
		response.Raw(w, http.StatusOK, CronResponse{Success: true, Skipped: true, Reason: service.SkipLocked})
		return
	}
	if err != nil {
		logger.For(r.Context(), h.logger).Error("cron image sync failed", zap.Error(err))
		response.Error(w, apierror.InternalError("image sync failed"))
		return
	}
	response.Raw(w, http.StatusOK, CronResponse{Success: true, RunID: res.RunID, Result: res.Summary})
}
