package storage

import (
	"path/filepath"
	"testing"

	"github.com/tjfontaine/gqlink/internal/pkg/config"
	"github.com/tjfontaine/gqlink/internal/storage/memory"
	"github.com/tjfontaine/gqlink/internal/storage/sqlite"
)

func TestOpen(t *testing.T) {
	store, err := Open(config.CacheConfig{Type: "memory", Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Errorf("memory: got %T", store)
	}

	store, err = Open(config.CacheConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "c.db")}})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok := store.(*sqlite.Store); !ok {
		t.Errorf("sqlite: got %T", store)
	}

	store, err = Open(config.CacheConfig{Type: "none"})
	if err != nil || store != nil {
		t.Errorf("none: got %v, %v", store, err)
	}

	if _, err := Open(config.CacheConfig{Type: "redis"}); err == nil {
		t.Error("unknown type should fail")
	}
}
