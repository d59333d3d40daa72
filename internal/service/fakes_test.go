package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/erp"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// fakeERP serves a fixed catalog from memory.
type fakeERP struct {
	mu        sync.Mutex
	items     []erp.Item
	listErr   map[int]error
	getErr    map[string]error
	images    map[string]*erp.Image
	imageErr  map[string]error
	listCalls int
	getCalls  int
	imgCalls  int
}

func newFakeERP(n int) *fakeERP {
	f := &fakeERP{
		listErr:  map[int]error{},
		getErr:   map[string]error{},
		images:   map[string]*erp.Image{},
		imageErr: map[string]error{},
	}
	for i := 0; i < n; i++ {
		f.items = append(f.items, stockItem(fmt.Sprintf("item-%03d", i), int64(i%5)))
	}
	return f
}

func stockItem(id string, qty int64) erp.Item {
	d := decimal.NewNullDecimal(decimal.NewFromInt(qty))
	return erp.Item{ItemID: id, AvailableStock: d, ActualAvailableStock: d}
}

func (f *fakeERP) ListItems(_ context.Context, _ model.Source, page, perPage int) (*erp.ItemPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.listErr[page]; err != nil {
		return nil, err
	}
	start := (page - 1) * perPage
	if start > len(f.items) {
		start = len(f.items)
	}
	end := start + perPage
	if end > len(f.items) {
		end = len(f.items)
	}
	out := make([]erp.Item, end-start)
	copy(out, f.items[start:end])
	return &erp.ItemPage{
		Items:       out,
		PageContext: erp.PageContext{Page: page, PerPage: perPage, HasMorePage: end < len(f.items)},
	}, nil
}

func (f *fakeERP) GetItem(_ context.Context, _ model.Source, itemID string) (*erp.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if err := f.getErr[itemID]; err != nil {
		return nil, err
	}
	for _, item := range f.items {
		if item.ItemID == itemID {
			cp := item
			return &cp, nil
		}
	}
	return nil, &erp.APIError{StatusCode: 404, Code: 1002, Message: "Item does not exist."}
}

func (f *fakeERP) GetItemImage(_ context.Context, itemID string) (*erp.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imgCalls++
	if err := f.imageErr[itemID]; err != nil {
		return nil, err
	}
	if img, ok := f.images[itemID]; ok {
		return img, nil
	}
	return nil, &erp.APIError{StatusCode: 404, Message: "no image"}
}

func (f *fakeERP) setQuantity(itemID string, qty int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ItemID == itemID {
			d := decimal.NewNullDecimal(decimal.NewFromInt(qty))
			f.items[i].AvailableStock = d
			f.items[i].ActualAvailableStock = d
		}
	}
}

// fakeHistory keeps runs in memory.
type fakeHistory struct {
	mu   sync.Mutex
	runs []model.SyncRun
}

func (h *fakeHistory) Record(_ context.Context, run model.SyncRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return nil
}

func (h *fakeHistory) Recent(_ context.Context, kind model.SyncKind, limit int) ([]model.SyncRun, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.SyncRun
	for i := len(h.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || h.runs[i].Kind == kind {
			out = append(out, h.runs[i])
		}
	}
	return out, nil
}

func (h *fakeHistory) LastSuccess(context.Context, model.SyncKind) (*model.SyncRun, error) {
	return nil, nil
}

func (h *fakeHistory) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func (h *fakeHistory) Close() error { return nil }

// fakeRevalidator records revalidated paths.
type fakeRevalidator struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *fakeRevalidator) Revalidate(_ context.Context, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), paths...))
	return r.err
}

func newMemCache(t *testing.T) *cache.MemoryCache {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	return c
}

func strPtr(s string) *string { return &s }
