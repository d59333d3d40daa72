// Package storage holds product images in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/config"
)

// ErrObjectNotFound is returned by Delete implementations that distinguish
// a missing object. Callers treat it as success.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores blobs under keys and exposes them at public URLs.
type ObjectStorage interface {
	// Put uploads data and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
	// KeyFromURL reverses URL. ok is false for URLs this storage did not issue.
	KeyFromURL(rawURL string) (key string, ok bool)
}

// New creates the storage backend selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (ObjectStorage, error) {
	switch cfg.Type {
	case "s3":
		s, err := NewS3Storage(ctx, cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("image storage using S3", zap.String("bucket", cfg.Bucket))
		return s, nil
	case "memory", "":
		logger.Info("image storage using in-memory backend")
		return NewMemoryStorage(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func trimKey(base, rawURL string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(rawURL, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key, key != ""
}
