package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
)

// flakyCache fails set lookups for one tag.
type flakyCache struct {
	cache.Cache
	failKey string
}

func (f *flakyCache) SetMembers(ctx context.Context, key string) ([]string, error) {
	if key == f.failKey {
		return nil, errors.New("connection refused")
	}
	return f.Cache.SetMembers(ctx, key)
}

// racingCache tags a fresh key right after the first tag lookup, the way a
// concurrent TagCache.Remember would.
type racingCache struct {
	cache.Cache
	once func()
}

func (r *racingCache) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.Cache.SetMembers(ctx, key)
	if r.once != nil {
		r.once()
		r.once = nil
	}
	return members, err
}

func TestInvalidator_KeepsConcurrentlyTaggedKeys(t *testing.T) {
	ctx := context.Background()
	mem := newMemCache(t)
	tc := NewTagCache(mem)
	page := func(context.Context) ([]byte, error) { return []byte("page"), nil }

	_, _, err := tc.Remember(ctx, "list:en", []string{TagProducts}, time.Minute, page)
	require.NoError(t, err)

	rc := &racingCache{Cache: mem}
	rc.once = func() {
		_, _, err := tc.Remember(ctx, "list:ar", []string{TagProducts}, time.Minute, page)
		require.NoError(t, err)
	}
	inv := NewInvalidator(rc, nil, nil, nil)

	res := inv.Invalidate(ctx, TagProducts, "test")
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, res.Keys)

	members, err := mem.SetMembers(ctx, TagKey(TagProducts))
	require.NoError(t, err)
	assert.Equal(t, []string{"list:ar"}, members)
	ok, _ := mem.Exists(ctx, "list:ar")
	assert.True(t, ok)

	res = inv.Invalidate(ctx, TagProducts, "test")
	assert.Equal(t, 1, res.Keys)
	ok, _ = mem.Exists(ctx, "list:ar")
	assert.False(t, ok)
}

func TestInvalidator_InvalidateDeletesTaggedKeys(t *testing.T) {
	ctx := context.Background()
	c := newMemCache(t)
	tc := NewTagCache(c)

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("page"), nil
	}

	_, hit, err := tc.Remember(ctx, "list:en", []string{TagProducts}, time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	v, hit, err := tc.Remember(ctx, "list:en", []string{TagProducts}, time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "page", string(v))
	assert.Equal(t, 1, calls)

	inv := NewInvalidator(c, nil, nil, nil)
	res := inv.Invalidate(ctx, TagProducts, "test")
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, res.Keys)

	ok, err := c.Exists(ctx, "list:en")
	require.NoError(t, err)
	assert.False(t, ok)

	_, hit, err = tc.Remember(ctx, "list:en", []string{TagProducts}, time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestInvalidator_InvalidateProducts(t *testing.T) {
	ctx := context.Background()
	rv := &fakeRevalidator{}
	inv := NewInvalidator(newMemCache(t), rv, []string{"en", "ar"}, nil)

	report := inv.InvalidateProducts(ctx, "stock", "A", "B", "A")
	tags := make([]string, 0, len(report.Tags))
	for _, r := range report.Tags {
		tags = append(tags, r.Tag)
	}
	assert.Equal(t, []string{TagProducts, TagProductsInStock, "product:A", "product:B"}, tags)
	assert.Equal(t, 0, report.Failures())

	require.Len(t, rv.calls, 1)
	assert.Equal(t, []string{
		"/en/shop", "/ar/shop",
		"/en/products/A", "/ar/products/A",
		"/en/products/B", "/ar/products/B",
	}, rv.calls[0])
}

func TestInvalidator_FailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	c := &flakyCache{Cache: newMemCache(t), failKey: TagKey(TagProductsInStock)}
	rv := &fakeRevalidator{err: errors.New("502")}
	inv := NewInvalidator(c, rv, []string{"en"}, nil)

	report := inv.InvalidateProducts(ctx, "stock", "A")
	require.Len(t, report.Tags, 3)
	assert.Empty(t, report.Tags[0].Error)
	assert.NotEmpty(t, report.Tags[1].Error)
	assert.Empty(t, report.Tags[2].Error)
	require.NotNil(t, report.Paths)
	assert.Equal(t, "502", report.Paths.Error)
	assert.Equal(t, 2, report.Failures())
}

func TestInvalidator_PathsSkippedWithoutRevalidator(t *testing.T) {
	inv := NewInvalidator(newMemCache(t), NewHTTPRevalidator("", "", 0), nil, nil)
	res := inv.InvalidatePaths(context.Background(), []string{"/en/shop"})
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Error)

	report := inv.InvalidateAll(context.Background(), "manual")
	assert.Len(t, report.Tags, 8)
	assert.True(t, report.Paths.Skipped)
}

func TestHTTPRevalidator(t *testing.T) {
	var got struct {
		Paths  []string `json:"paths"`
		Secret string   `json:"secret"`
	}
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	rv := NewHTTPRevalidator(srv.URL, "s3cret", time.Second)
	require.NoError(t, rv.Revalidate(context.Background(), []string{"/en/shop"}))
	assert.Equal(t, []string{"/en/shop"}, got.Paths)
	assert.Equal(t, "s3cret", got.Secret)

	status = http.StatusInternalServerError
	assert.Error(t, rv.Revalidate(context.Background(), []string{"/en/shop"}))
}
