package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/logger"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/internal/webhook"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

const maxWebhookBody = 1 << 20

// EventDispatcher performs the side effects of a normalized event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev model.NormalizedEvent) webhook.Ack
}

// WebhookHandler receives ERP webhook deliveries.
type WebhookHandler struct {
	dispatcher EventDispatcher
	deduper    *webhook.Deduper
	logger     *zap.Logger
}

// NewWebhookHandler creates a webhook handler. deduper may be nil.
func NewWebhookHandler(dispatcher EventDispatcher, deduper *webhook.Deduper, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{dispatcher: dispatcher, deduper: deduper, logger: logger.Named("webhook-handler")}
}

// WebhookResponse is the body returned to the ERP.
type WebhookResponse struct {
	Success      bool                        `json:"success"`
	Event        string                      `json:"event"`
	Entity       string                      `json:"entity"`
	Handled      bool                        `json:"handled"`
	Duplicate    bool                        `json:"duplicate,omitempty"`
	StockSync    *webhook.StockSyncAck       `json:"stock_sync,omitempty"`
	Image        *service.ImageOutcome       `json:"image,omitempty"`
	Invalidation *service.InvalidationReport `json:"invalidation,omitempty"`
}

// Receive handles POST /api/webhooks/erp. Partial failures are reported in
// the body with a 200 so the sender can decide whether to re-deliver.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		response.Error(w, apierror.BadRequest("failed to read request body"))
		return
	}
	if len(body) > maxWebhookBody {
		response.Error(w, apierror.BadRequest("request body too large"))
		return
	}

	ev, err := webhook.Parse(body)
	if errors.Is(err, webhook.ErrInvalidPayload) {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}

	resp := WebhookResponse{Success: true, Event: ev.EventType, Entity: ev.EntityName}

	log := logger.For(r.Context(), h.logger)
	dup, err := h.deduper.Seen(r.Context(), body)
	if err != nil {
		log.Warn("webhook dedupe check failed", zap.Error(err))
	}
	if dup {
		log.Info("duplicate webhook ignored", zap.String("event", ev.EventType))
		resp.Duplicate = true
		response.Raw(w, http.StatusOK, resp)
		return
	}

	// The claim is released unless dispatch completes cleanly, including
	// when Dispatch panics.
	completed := false
	defer func() {
		if completed {
			return
		}
		if err := h.deduper.Forget(context.WithoutCancel(r.Context()), body); err != nil {
			log.Warn("failed to release webhook dedupe claim", zap.Error(err))
		}
	}()

	ack := h.dispatcher.Dispatch(r.Context(), ev)
	completed = !ack.Failed()
	resp.Handled = ack.Handled
	resp.StockSync = ack.StockSync
	resp.Image = ack.Image
	resp.Invalidation = ack.Invalidation
	response.Raw(w, http.StatusOK, resp)
}
