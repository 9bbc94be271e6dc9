package cmd

import (
	"fmt"
	"log/slog"

	"github.com/signpostkit/signpost/pkg/cache"
)

// NewEffectiveCache creates the effective-list cache. An empty redis URL
// disables caching entirely.
func NewEffectiveCache(redisURL string, logger *slog.Logger) cache.EffectiveCache {
	if redisURL == "" {
		logger.Info("effective cache disabled, resolving from storage on every request")

		return cache.NewNoop()
	}

	c, err := cache.NewRedis(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to create redis cache: %w", err))
	}

	return c
}
