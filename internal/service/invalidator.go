package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
)

// Cache tags understood by the storefront.
const (
	TagProducts        = "products"
	TagProductsInStock = "products-in-stock"
	TagCategories      = "categories"
	TagPriceLists      = "price-lists"
	TagWarehouses      = "warehouses"
	TagCustomers       = "customers"
	TagVendorPayments  = "vendor-payments"
	TagExpenses        = "expenses"
)

// ProductTag is the per-product detail tag.
func ProductTag(itemID string) string { return "product:" + itemID }

// OrdersTag is the per-customer orders tag.
func OrdersTag(customerID string) string { return "orders:" + customerID }

// InvoicesTag is the per-customer invoices tag.
func InvoicesTag(customerID string) string { return "invoices:" + customerID }

// CreditNotesTag is the per-customer credit notes tag.
func CreditNotesTag(customerID string) string { return "credit-notes:" + customerID }

// TagKey returns the cache key of the set holding the keys tagged with tag.
func TagKey(tag string) string { return "tag:" + tag }

// TagResult is the outcome of invalidating one tag.
type TagResult struct {
	Tag   string `json:"tag"`
	Keys  int    `json:"keys"`
	Error string `json:"error,omitempty"`
}

// PathResult is the outcome of one path revalidation request.
type PathResult struct {
	Paths   []string `json:"paths"`
	Skipped bool     `json:"skipped,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// InvalidationReport aggregates independent tag and path outcomes.
type InvalidationReport struct {
	Reason string      `json:"reason"`
	Tags   []TagResult `json:"tags"`
	Paths  *PathResult `json:"paths,omitempty"`
}

// Failures counts the tags and paths that could not be invalidated.
func (r InvalidationReport) Failures() int {
	n := 0
	for _, t := range r.Tags {
		if t.Error != "" {
			n++
		}
	}
	if r.Paths != nil && r.Paths.Error != "" {
		n++
	}
	return n
}

// PathRevalidator purges rendered pages.
type PathRevalidator interface {
	Revalidate(ctx context.Context, paths []string) error
}

// ErrRevalidationDisabled is returned by a revalidator without a target.
var ErrRevalidationDisabled = errors.New("path revalidation not configured")

// HTTPRevalidator posts paths to the rendered-page layer's revalidation hook.
type HTTPRevalidator struct {
	url    string
	secret string
	client *http.Client
}

// NewHTTPRevalidator creates a revalidator. An empty url disables it.
func NewHTTPRevalidator(url, secret string, timeout time.Duration) *HTTPRevalidator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRevalidator{url: url, secret: secret, client: &http.Client{Timeout: timeout}}
}

// Revalidate sends {paths, secret}.
func (h *HTTPRevalidator) Revalidate(ctx context.Context, paths []string) error {
	if h.url == "" {
		return ErrRevalidationDisabled
	}
	body, err := json.Marshal(map[string]any{"paths": paths, "secret": h.secret})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revalidation failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Invalidator drops derived caches after data changes. Every tag and the
// path batch are attempted independently; failures end up in the report.
type Invalidator struct {
	cache   cache.Cache
	paths   PathRevalidator
	locales []string
	logger  *zap.Logger
}

// NewInvalidator creates an invalidator. paths may be nil.
func NewInvalidator(c cache.Cache, paths PathRevalidator, locales []string, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(locales) == 0 {
		locales = []string{"en", "ar"}
	}
	return &Invalidator{cache: c, paths: paths, locales: locales, logger: logger.Named("invalidator")}
}

// Invalidate deletes every key registered under tag. Only the members it
// read are unregistered, and before their keys are deleted, so a key
// tagged concurrently by TagCache.Remember stays reachable.
func (i *Invalidator) Invalidate(ctx context.Context, tag, reason string) TagResult {
	res := TagResult{Tag: tag}
	members, err := i.cache.SetMembers(ctx, TagKey(tag))
	if err == nil && len(members) > 0 {
		err = i.cache.RemoveFromSet(ctx, TagKey(tag), members...)
		if err == nil {
			err = i.cache.Delete(ctx, members...)
		}
	}
	if err != nil {
		res.Error = err.Error()
		i.logger.Warn("tag invalidation failed", zap.String("tag", tag), zap.String("reason", reason), zap.Error(err))
		return res
	}
	res.Keys = len(members)
	i.logger.Debug("tag invalidated", zap.String("tag", tag), zap.Int("keys", res.Keys), zap.String("reason", reason))
	return res
}

// InvalidateTags invalidates each tag independently.
func (i *Invalidator) InvalidateTags(ctx context.Context, reason string, tags ...string) InvalidationReport {
	report := InvalidationReport{Reason: reason, Tags: make([]TagResult, 0, len(tags))}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		report.Tags = append(report.Tags, i.Invalidate(ctx, tag, reason))
	}
	return report
}

// InvalidatePaths asks the rendered-page layer to drop paths. An
// unconfigured revalidator is a successful no-op.
func (i *Invalidator) InvalidatePaths(ctx context.Context, paths []string) PathResult {
	res := PathResult{Paths: paths}
	if i.paths == nil || len(paths) == 0 {
		res.Skipped = true
		return res
	}
	err := i.paths.Revalidate(ctx, paths)
	if errors.Is(err, ErrRevalidationDisabled) {
		res.Skipped = true
		return res
	}
	if err != nil {
		res.Error = err.Error()
		i.logger.Warn("path revalidation failed", zap.Strings("paths", paths), zap.Error(err))
	}
	return res
}

// InvalidateProducts fans a stock or catalog change out to the list,
// in-stock and detail tags plus the shop and product pages of every locale.
func (i *Invalidator) InvalidateProducts(ctx context.Context, reason string, itemIDs ...string) InvalidationReport {
	tags := []string{TagProducts, TagProductsInStock}
	paths := make([]string, 0, len(i.locales)*(1+len(itemIDs)))
	for _, locale := range i.locales {
		paths = append(paths, "/"+locale+"/shop")
	}
	for _, id := range uniqueNonEmpty(itemIDs) {
		tags = append(tags, ProductTag(id))
		for _, locale := range i.locales {
			paths = append(paths, "/"+locale+"/products/"+id)
		}
	}

	report := i.InvalidateTags(ctx, reason, tags...)
	pr := i.InvalidatePaths(ctx, paths)
	report.Paths = &pr

	i.logger.Info("products invalidated",
		zap.String("reason", reason),
		zap.Int("items", len(itemIDs)),
		zap.Int("failures", report.Failures()),
	)
	return report
}

// InvalidateAll drops every storefront partition and the shop pages.
func (i *Invalidator) InvalidateAll(ctx context.Context, reason string) InvalidationReport {
	report := i.InvalidateTags(ctx, reason,
		TagProducts, TagProductsInStock, TagCategories, TagPriceLists,
		TagWarehouses, TagCustomers, TagVendorPayments, TagExpenses,
	)
	paths := make([]string, 0, len(i.locales))
	for _, locale := range i.locales {
		paths = append(paths, "/"+locale+"/shop")
	}
	pr := i.InvalidatePaths(ctx, paths)
	report.Paths = &pr
	return report
}

// TagCache memoizes derived values and registers their keys under tags so
// Invalidator can find them.
type TagCache struct {
	cache cache.Cache
}

// NewTagCache creates a tag cache over c.
func NewTagCache(c cache.Cache) *TagCache {
	return &TagCache{cache: c}
}

// Remember returns the cached value of key or computes it with fn, stores
// it for ttl and tags it. hit reports whether the value came from cache.
func (t *TagCache) Remember(ctx context.Context, key string, tags []string, ttl time.Duration, fn func(context.Context) ([]byte, error)) (value []byte, hit bool, err error) {
	value, err = t.cache.Get(ctx, key)
	if err == nil {
		return value, true, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return nil, false, err
	}

	value, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := t.cache.Set(ctx, key, value, ttl); err != nil {
		return value, false, nil
	}
	for _, tag := range tags {
		if err := t.cache.AddToSet(ctx, TagKey(tag), key); err != nil {
			// An untagged entry would survive invalidation; drop it.
			_ = t.cache.Delete(ctx, key)
			break
		}
	}
	return value, false, nil
}
