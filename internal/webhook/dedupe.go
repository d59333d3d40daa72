package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
)

const seenKeyPrefix = "webhook:seen:"

// Deduper recognizes byte-identical re-deliveries within a window.
type Deduper struct {
	cache  cache.Cache
	window time.Duration
}

// NewDeduper creates a deduper. A zero window disables it.
func NewDeduper(c cache.Cache, window time.Duration) *Deduper {
	return &Deduper{cache: c, window: window}
}

func seenKey(body []byte) string {
	sum := sha256.Sum256(body)
	return seenKeyPrefix + hex.EncodeToString(sum[:])
}

// Seen claims body as delivered and reports whether it already was. A
// caller whose delivery then fails must Forget it so a retry is processed.
func (d *Deduper) Seen(ctx context.Context, body []byte) (bool, error) {
	if d == nil || d.window <= 0 {
		return false, nil
	}
	stored, err := d.cache.SetNX(ctx, seenKey(body), []byte("1"), d.window)
	if err != nil {
		return false, err
	}
	return !stored, nil
}

// Forget releases the claim taken by Seen.
func (d *Deduper) Forget(ctx context.Context, body []byte) error {
	if d == nil || d.window <= 0 {
		return nil
	}
	return d.cache.Delete(ctx, seenKey(body))
}
