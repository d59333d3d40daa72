package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/logger"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

// CacheFlusher is the invalidator surface used for manual flushes.
type CacheFlusher interface {
	InvalidateProducts(ctx context.Context, reason string, itemIDs ...string) service.InvalidationReport
	InvalidateTags(ctx context.Context, reason string, tags ...string) service.InvalidationReport
	InvalidateAll(ctx context.Context, reason string) service.InvalidationReport
}

// RevalidateHandler flushes cache partitions without touching stock data.
type RevalidateHandler struct {
	flusher  CacheFlusher
	validate *validator.Validate
	logger   *zap.Logger
}

// NewRevalidateHandler creates a revalidate handler.
func NewRevalidateHandler(flusher CacheFlusher, logger *zap.Logger) *RevalidateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevalidateHandler{flusher: flusher, validate: newValidator(), logger: logger.Named("revalidate-handler")}
}

type revalidateQuery struct {
	Tag string `query:"tag" validate:"required,oneof=products categories price-lists warehouses all"`
}

// Revalidate handles GET /api/revalidate?tag=products|categories|price-lists|warehouses|all.
func (h *RevalidateHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	q := revalidateQuery{Tag: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("tag")))}
	if err := h.validate.Struct(q); err != nil {
		response.Error(w, validationError(err))
		return
	}

	ctx := r.Context()
	const reason = "manual-flush"
	var report service.InvalidationReport
	switch q.Tag {
	case "all":
		report = h.flusher.InvalidateAll(ctx, reason)
	case service.TagProducts:
		report = h.flusher.InvalidateProducts(ctx, reason)
	default:
		report = h.flusher.InvalidateTags(ctx, reason, q.Tag)
	}

	logger.For(r.Context(), h.logger).Info("cache flushed", zap.String("tag", q.Tag), zap.Int("failures", report.Failures()))
	response.NoStore(w)
	response.OK(w, map[string]any{
		"tag":          q.Tag,
		"revalidated":  report.Failures() == 0,
		"invalidation": report,
	})
}
