// Package storage selects the response cache backend.
package storage

import (
	"fmt"

	"github.com/tjfontaine/gqlink/internal/core/ports"
	"github.com/tjfontaine/gqlink/internal/pkg/config"
	"github.com/tjfontaine/gqlink/internal/storage/memory"
	"github.com/tjfontaine/gqlink/internal/storage/sqlite"
)

// Open returns the cache store named by cfg.Type. "none" returns a nil
// store, which disables caching.
func Open(cfg config.CacheConfig) (ports.CacheStore, error) {
	switch cfg.Type {
	case "", "memory":
		store, err := memory.New(cfg.Size)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
