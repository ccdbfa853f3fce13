package metadata

import (
	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/logging"
)

// NewStore builds the store selected by cfg.Backend. When redis cannot be
// reached the memory store is used instead.
func NewStore(cfg config.CacheConfig, logger *logging.Logger) Store {
	if cfg.Backend == "redis" {
		store, err := NewRedisStore(cfg.RedisURL, cfg.RedisDB, cfg.KeyPrefix, cfg.CatalogueTTL)
		if err == nil {
			logger.Info("Catalogue cache on redis", "prefix", cfg.KeyPrefix)
			return store
		}
		logger.Warn("Redis unavailable, catalogue cache falls back to memory", "error", err)
	}
	return NewMemoryStore(cfg.CatalogueTTL)
}
