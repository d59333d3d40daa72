package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/logger"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

// SyncRunner is the orchestrator surface used by the sync and cron handlers.
type SyncRunner interface {
	RunFull(ctx context.Context, opts service.RunOptions) (*service.RunResult, error)
	RunScheduled(ctx context.Context, trigger model.Trigger) (*service.RunResult, error)
	RunImages(ctx context.Context, trigger model.Trigger) (*service.ImageRunResult, error)
	Status(ctx context.Context) (*service.StatusReport, error)
}

// SyncHandler serves the manual, chainable sync trigger.
type SyncHandler struct {
	runner    SyncRunner
	validate  *validator.Validate
	publicURL string
	logger    *zap.Logger
}

// NewSyncHandler creates a sync handler. publicURL overrides the scheme and
// host used in nextSyncUrl.
func NewSyncHandler(runner SyncRunner, publicURL string, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{
		runner:    runner,
		validate:  newValidator(),
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.Named("sync-handler"),
	}
}

type syncQuery struct {
	Action string `query:"action" validate:"oneof=status sync"`
	Offset int    `query:"offset" validate:"gte=0"`
	Limit  int    `query:"limit" validate:"gte=0,lte=100000"`
	Force  bool   `query:"force"`
	Source string `query:"source" validate:"omitempty,oneof=BOOKS INVENTORY"`
}

// SyncResponse is the self-describing body of GET /api/sync.
type SyncResponse struct {
	Success      bool                        `json:"success"`
	Action       string                      `json:"action"`
	RunID        string                      `json:"runId,omitempty"`
	Skipped      bool                        `json:"skipped,omitempty"`
	Reason       string                      `json:"reason,omitempty"`
	Result       *service.SyncResult         `json:"result,omitempty"`
	Invalidation *service.InvalidationReport `json:"invalidation,omitempty"`
	NextSyncURL  string                      `json:"nextSyncUrl,omitempty"`
	Status       *service.StatusReport       `json:"status,omitempty"`
}

// Sync handles GET /api/sync?action=status|sync&offset&limit&force&source.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	q, apiErr := h.parseQuery(r.URL.Query())
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	response.NoStore(w)

	if q.Action == "status" {
		status, err := h.runner.Status(r.Context())
		if err != nil {
			logger.For(r.Context(), h.logger).Error("failed to load sync status", zap.Error(err))
			response.Error(w, apierror.InternalError("failed to load sync status"))
			return
		}
		response.Raw(w, http.StatusOK, SyncResponse{Success: true, Action: q.Action, Status: status})
		return
	}

	res, err := h.runner.RunFull(r.Context(), service.RunOptions{
		Trigger:  model.TriggerManual,
		Source:   model.Source(q.Source),
		SkipLock: q.Limit > 0,
		Offset:   q.Offset,
		Limit:    q.Limit,
		Force:    q.Force,
	})
	if errors.Is(err, service.ErrSyncInProgress) {
		response.Error(w, apierror.Conflict("a sync is already in progress"))
		return
	}
	if err != nil {
		logger.For(r.Context(), h.logger).Error("manual sync failed", zap.Error(err))
		response.Error(w, apierror.InternalError("sync failed"))
		return
	}

	resp := SyncResponse{
		Success:      res.Skipped || (res.Sync != nil && res.Sync.Success()),
		Action:       q.Action,
		RunID:        res.RunID,
		Skipped:      res.Skipped,
		Reason:       res.Reason,
		Result:       res.Sync,
		Invalidation: res.Invalidation,
	}
	if res.Sync != nil && res.Sync.NextOffset != nil {
		resp.NextSyncURL = h.nextURL(r, q, *res.Sync.NextOffset)
	}
	response.Raw(w, http.StatusOK, resp)
}

func (h *SyncHandler) parseQuery(v url.Values) (syncQuery, *apierror.Error) {
	q := syncQuery{
		Action: strings.ToLower(v.Get("action")),
		Force:  queryBool(v.Get("force")),
		Source: strings.ToUpper(strings.TrimSpace(v.Get("source"))),
	}
	if q.Action == "" {
		q.Action = "status"
	}
	var apiErr *apierror.Error
	if q.Offset, apiErr = queryInt(v.Get("offset"), "offset"); apiErr != nil {
		return q, apiErr
	}
	if q.Limit, apiErr = queryInt(v.Get("limit"), "limit"); apiErr != nil {
		return q, apiErr
	}
	if err := h.validate.Struct(q); err != nil {
		return q, validationError(err)
	}
	return q, nil
}

// nextURL builds the URL of the next chunk. Secrets are not echoed back.
func (h *SyncHandler) nextURL(r *http.Request, q syncQuery, next int) string {
	params := url.Values{}
	params.Set("action", "sync")
	params.Set("offset", strconv.Itoa(next))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Source != "" {
		params.Set("source", q.Source)
	}
	if q.Force {
		params.Set("force", "true")
	}

	base := h.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.Path + "?" + params.Encode()
}
