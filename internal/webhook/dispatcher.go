package webhook

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/erp"
	"github.com/Qmop1967/Clients-Console-sub001/internal/metrics"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
)

// StockSyncer refreshes named items.
type StockSyncer interface {
	QuickSync(ctx context.Context, itemIDs []string, source model.Source) (*service.QuickSyncResult, error)
}

// ImageSyncer reconciles one item's image.
type ImageSyncer interface {
	SyncItem(ctx context.Context, req service.ImageRequest) (*service.ImageOutcome, error)
}

// InvoiceSource re-fetches invoices, whose webhooks omit line items.
type InvoiceSource interface {
	GetInvoice(ctx context.Context, invoiceID string) (*erp.Invoice, error)
}

// Invalidator drops derived caches.
type Invalidator interface {
	InvalidateProducts(ctx context.Context, reason string, itemIDs ...string) service.InvalidationReport
	InvalidateTags(ctx context.Context, reason string, tags ...string) service.InvalidationReport
}

// StockSyncAck reports the stock side of a delivery.
type StockSyncAck struct {
	Success         bool                `json:"success"`
	ItemsSynced     int                 `json:"itemsSynced"`
	InvoiceNotFound bool                `json:"invoiceNotFound,omitempty"`
	Errors          []service.ItemError `json:"errors,omitempty"`
}

// Ack is the structured acknowledgement of one delivery.
type Ack struct {
	Handled      bool                        `json:"handled"`
	Duplicate    bool                        `json:"duplicate,omitempty"`
	StockSync    *StockSyncAck               `json:"stock_sync,omitempty"`
	Image        *service.ImageOutcome       `json:"image,omitempty"`
	Invalidation *service.InvalidationReport `json:"invalidation,omitempty"`
}

// Failed reports whether the sender should retry: stock reconciliation
// failed or a cache partition could not be invalidated.
func (a Ack) Failed() bool {
	if a.StockSync != nil && !a.StockSync.Success {
		return true
	}
	return a.Invalidation != nil && a.Invalidation.Failures() > 0
}

// Dispatcher routes normalized events to their side effects.
type Dispatcher struct {
	stock       StockSyncer
	images      ImageSyncer
	invoices    InvoiceSource
	invalidator Invalidator
	source      model.Source
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// DispatcherDeps groups the collaborators of a Dispatcher. Images and
// Metrics may be nil.
type DispatcherDeps struct {
	Stock       StockSyncer
	Images      ImageSyncer
	Invoices    InvoiceSource
	Invalidator Invalidator
	Source      model.Source
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		stock:       deps.Stock,
		images:      deps.Images,
		invoices:    deps.Invoices,
		invalidator: deps.Invalidator,
		source:      deps.Source,
		metrics:     deps.Metrics,
		logger:      logger.Named("webhook"),
	}
}

// Dispatch performs the side effects of ev. Per-item and invalidation
// failures are reported in the Ack; stock reconciliation always finishes
// before image sync and invalidation start.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.NormalizedEvent) Ack {
	var ack Ack
	switch {
	case ev.Entity.StockAffecting():
		ack = d.stockEvent(ctx, ev)
	case ev.Entity == model.EntityUnknown:
		ack = d.unknownEvent(ctx, ev)
	default:
		ack = d.partitionEvent(ctx, ev)
	}

	outcome := "ignored"
	if ack.Handled {
		outcome = "handled"
	}
	d.metrics.WebhookEvent(string(ev.Entity), outcome)
	if ack.Invalidation != nil {
		d.metrics.InvalidationFailures(ack.Invalidation.Failures())
	}

	d.logger.Info("webhook dispatched",
		zap.String("event", ev.EventType),
		zap.String("entity", string(ev.Entity)),
		zap.Bool("handled", ack.Handled),
	)
	return ack
}

func (d *Dispatcher) stockEvent(ctx context.Context, ev model.NormalizedEvent) Ack {
	ack := Ack{Handled: true}
	reason := "webhook:" + ev.EventType
	ids := ItemIDs(ev.Data)

	if ev.Entity == model.EntityInvoice {
		if invoiceID := stringField(ev.Data, "invoice_id"); invoiceID != "" {
			inv, err := d.invoices.GetInvoice(ctx, invoiceID)
			switch {
			case errors.Is(err, erp.ErrNotFound):
				d.logger.Info("invoice no longer exists upstream", zap.String("invoice_id", invoiceID))
				ack.StockSync = &StockSyncAck{Success: true, InvoiceNotFound: true}
			case err != nil:
				d.logger.Warn("failed to fetch invoice", zap.String("invoice_id", invoiceID), zap.Error(err))
				ack.StockSync = &StockSyncAck{Errors: []service.ItemError{{Error: err.Error()}}}
			default:
				ids = mergeIDs(ids, inv.ItemIDs())
			}
		}
	}

	if ack.StockSync == nil && len(ids) > 0 {
		ack.StockSync = d.syncStock(ctx, ids)
	}

	if ev.Entity == model.EntityItem {
		ack.Image = d.syncImage(ctx, ev)
	}

	report := d.invalidator.InvalidateProducts(ctx, reason, ids...)
	if tags := customerTags(ev); len(tags) > 0 {
		extra := d.invalidator.InvalidateTags(ctx, reason, tags...)
		report.Tags = append(report.Tags, extra.Tags...)
	}
	ack.Invalidation = &report
	return ack
}

func (d *Dispatcher) syncStock(ctx context.Context, ids []string) *StockSyncAck {
	res, err := d.stock.QuickSync(ctx, ids, d.source)
	if err != nil {
		d.logger.Error("quick sync failed", zap.Strings("item_ids", ids), zap.Error(err))
		return &StockSyncAck{Errors: []service.ItemError{{Error: err.Error()}}}
	}
	return &StockSyncAck{Success: res.Success, ItemsSynced: res.ItemsSynced, Errors: res.Errors}
}

func (d *Dispatcher) syncImage(ctx context.Context, ev model.NormalizedEvent) *service.ImageOutcome {
	itemID := stringField(ev.Data, "item_id")
	if d.images == nil || itemID == "" {
		return nil
	}
	req := service.ImageRequest{
		ItemID:    itemID,
		DocID:     optionalField(ev.Data, "image_document_id"),
		ImageName: optionalField(ev.Data, "image_name"),
		Force:     ev.Verb() == "updated" && !ev.Synthesized,
	}
	out, err := d.images.SyncItem(ctx, req)
	if err != nil {
		d.logger.Warn("image sync failed", zap.String("item_id", itemID), zap.Error(err))
		return nil
	}
	return out
}

// partitionEvent handles entities that only own a cache partition.
func (d *Dispatcher) partitionEvent(ctx context.Context, ev model.NormalizedEvent) Ack {
	var tags []string
	switch ev.Entity {
	case model.EntityCategory:
		tags = []string{service.TagCategories}
	case model.EntityPriceList:
		tags = []string{service.TagPriceLists}
	case model.EntityContact:
		tags = []string{service.TagCustomers}
		if id := stringField(ev.Data, "contact_id"); id != "" {
			tags = append(tags, service.OrdersTag(id))
		}
	case model.EntityVendorPayment:
		tags = []string{service.TagVendorPayments}
	case model.EntityExpense:
		tags = []string{service.TagExpenses}
	default:
		return Ack{}
	}
	report := d.invalidator.InvalidateTags(ctx, "webhook:"+ev.EventType, tags...)
	return Ack{Handled: true, Invalidation: &report}
}

// unknownEvent invalidates products when the payload still looks item
// related and ignores it otherwise.
func (d *Dispatcher) unknownEvent(ctx context.Context, ev model.NormalizedEvent) Ack {
	_, hasLines := ev.Data["line_items"]
	_, hasItemID := ev.Data["item_id"]
	_, hasItems := ev.Data["items"]
	if !hasLines && !hasItemID && !hasItems {
		return Ack{}
	}
	report := d.invalidator.InvalidateProducts(ctx, "webhook:unknown", ItemIDs(ev.Data)...)
	return Ack{Handled: true, Invalidation: &report}
}

func customerTags(ev model.NormalizedEvent) []string {
	customerID := stringField(ev.Data, "customer_id")
	if customerID == "" {
		return nil
	}
	switch ev.Entity {
	case model.EntitySalesOrder:
		return []string{service.OrdersTag(customerID)}
	case model.EntityInvoice:
		return []string{service.InvoicesTag(customerID)}
	case model.EntityCreditNote:
		return []string{service.CreditNotesTag(customerID)}
	}
	return nil
}

// ItemIDs collects item ids from item_id, line_items[].item_id and
// items[].item_id, deduplicated in first-seen order.
func ItemIDs(data map[string]any) []string {
	var ids []string
	if id := stringField(data, "item_id"); id != "" {
		ids = append(ids, id)
	}
	for _, key := range []string{"line_items", "items"} {
		list, _ := data[key].([]any)
		for _, entry := range list {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if id := stringField(obj, "item_id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return mergeIDs(nil, ids)
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// stringField reads a string or numeric id.
func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func optionalField(data map[string]any, key string) *string {
	if v := stringField(data, key); v != "" {
		return &v
	}
	return nil
}
