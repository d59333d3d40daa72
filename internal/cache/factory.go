package cache

import (
	"fmt"

	"github.com/Qmop1967/Clients-Console-sub001/internal/config"
	"go.uber.org/zap"
)

// New creates the cache selected by configuration. When Redis is requested
// but unreachable the error is returned; falling back to memory would split
// lock state across instances.
func New(cfg config.CacheConfig, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Type {
	case "redis":
		c, err := NewRedisCache(RedisConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Redis cache initialized",
			zap.String("addr", cfg.RedisAddress()),
			zap.Int("db", cfg.RedisDB),
			zap.String("prefix", cfg.KeyPrefix),
		)
		return c, nil
	case "memory", "":
		logger.Warn("Using in-memory cache; locks are not shared across instances")
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}
