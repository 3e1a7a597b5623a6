package memory

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tjfontaine/gqlink/internal/core/domain"
	"github.com/tjfontaine/gqlink/internal/core/ports"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 512

// Store is an in-memory LRU implementation of CacheStore
type Store struct {
	entries *lru.Cache[string, *domain.Response]
}

var _ ports.CacheStore = (*Store)(nil)

// New creates a new in-memory store holding at most size responses
func New(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *domain.Response](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Store{entries: entries}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*domain.Response, bool, error) {
	resp, ok := s.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

func (s *Store) Put(ctx context.Context, key string, resp *domain.Response) error {
	if resp == nil {
		return fmt.Errorf("cache %s: nil response", key)
	}
	s.entries.Add(key, resp.Clone())
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.entries.Purge()
	return nil
}

// Len reports the number of cached responses.
func (s *Store) Len() int {
	return s.entries.Len()
}

func (s *Store) Close() error {
	s.entries.Purge()
	return nil
}
