package ports

import (
	"context"

	"github.com/tjfontaine/gqlink/internal/core/domain"
)

// CacheStore is the result cache collaborator, keyed by normalized
// request identity. Implementations must allow concurrent use.
// Implementations: in-memory LRU, SQLite.
type CacheStore interface {
	// Get returns the cached response for key, if present.
	Get(ctx context.Context, key string) (*domain.Response, bool, error)

	// Put stores resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp *domain.Response) error

	// Clear drops every entry.
	Clear(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
