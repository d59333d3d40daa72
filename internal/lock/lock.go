// Package lock provides an auto-expiring mutex over the shared cache store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/uid"
)

// Well-known lock keys.
const (
	StockSyncKey = "stock:sync:lock"
	ImageSyncKey = "image:sync:lock"
)

// ErrNotHeld is returned by Release when this instance does not own the lock.
var ErrNotHeld = errors.New("lock not held")

// Lock is a distributed mutex. The key expires after ttl so a crashed
// holder never blocks later runs for longer than one TTL.
type Lock struct {
	store cache.Cache
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	token string
}

// New creates a lock over key in store.
func New(store cache.Cache, key string, ttl time.Duration) *Lock {
	return &Lock{store: store, key: key, ttl: ttl}
}

// Key returns the store key guarded by this lock.
func (l *Lock) Key() string {
	return l.key
}

// Acquire tries to take the lock. It returns false without error when
// another holder owns it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	token := uid.New()
	ok, err := l.store.SetNX(ctx, l.key, []byte(token), l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

// Release frees the lock if this instance still owns it.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}

	deleted, err := l.store.CompareAndDelete(ctx, l.key, []byte(token))
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if !deleted {
		return ErrNotHeld
	}
	return nil
}

// IsLocked reports whether anyone currently holds the lock.
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	return l.store.Exists(ctx, l.key)
}
