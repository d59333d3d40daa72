package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

var errStockNotCached = errors.New("stock not cached")

// StockHandler serves cached stock reads. Responses are memoized under the
// product tags so every invalidation drops them.
type StockHandler struct {
	stock    *repository.StockStore
	tags     *service.TagCache
	ttl      time.Duration
	validate *validator.Validate
	logger   *zap.Logger
}

// NewStockHandler creates a stock read handler.
func NewStockHandler(stock *repository.StockStore, tags *service.TagCache, ttl time.Duration, logger *zap.Logger) *StockHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StockHandler{stock: stock, tags: tags, ttl: ttl, validate: newValidator(), logger: logger.Named("stock-handler")}
}

// GetStock handles GET /api/v1/stock/{item_id}.
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		response.Error(w, apierror.BadRequest("item_id is required"))
		return
	}

	tags := []string{service.TagProducts, service.ProductTag(itemID)}
	data, hit, err := h.tags.Remember(r.Context(), "stock-read:"+itemID, tags, h.ttl, func(ctx context.Context) ([]byte, error) {
		rec, err := h.stock.Get(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, errStockNotCached
		}
		return json.Marshal(rec)
	})
	if errors.Is(err, errStockNotCached) {
		response.Error(w, apierror.NotFound("no cached stock for item "+itemID))
		return
	}
	if err != nil {
		h.logger.Error("failed to read stock", zap.String("item_id", itemID), zap.Error(err))
		response.Error(w, apierror.InternalError("failed to read stock"))
		return
	}

	setCacheHeader(w, hit)
	response.OK(w, json.RawMessage(data))
}

type stockListQuery struct {
	IDs []string `query:"ids" validate:"required,min=1,max=100,dive,required"`
}

// ListStock handles GET /api/v1/stock?ids=a,b. Items without a cached
// record are listed under missing.
func (h *StockHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	q := stockListQuery{IDs: splitIDs(r.URL.Query().Get("ids"))}
	if err := h.validate.Struct(q); err != nil {
		response.Error(w, validationError(err))
		return
	}

	tags := make([]string, 0, len(q.IDs)+1)
	tags = append(tags, service.TagProducts)
	for _, id := range q.IDs {
		tags = append(tags, service.ProductTag(id))
	}

	key := "stock-read:list:" + strings.Join(q.IDs, ",")
	data, hit, err := h.tags.Remember(r.Context(), key, tags, h.ttl, func(ctx context.Context) ([]byte, error) {
		recs, err := h.stock.GetMany(ctx, q.IDs)
		if err != nil {
			return nil, err
		}
		missing := []string{}
		for _, id := range q.IDs {
			if _, ok := recs[id]; !ok {
				missing = append(missing, id)
			}
		}
		return json.Marshal(stockList{Items: recs, Missing: missing})
	})
	if err != nil {
		h.logger.Error("failed to read stock", zap.Strings("item_ids", q.IDs), zap.Error(err))
		response.Error(w, apierror.InternalError("failed to read stock"))
		return
	}

	setCacheHeader(w, hit)
	response.OK(w, json.RawMessage(data))
}

type stockList struct {
	Items   map[string]model.StockRecord `json:"items"`
	Missing []string                     `json:"missing"`
}

// splitIDs splits a comma list into sorted unique ids, so equivalent
// requests share a cache key.
func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
		return
	}
	w.Header().Set("X-Cache", "MISS")
}
