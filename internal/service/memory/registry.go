package memory

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto"
)

const defaultCachedOwners = 256

// RegistryConfig describes where owner memory documents live.
type RegistryConfig struct {
	// Root holds one {owner}_memory.json document per owner.
	Root string
	// SingleFile, when set, is shared by every owner (single-user console mode).
	SingleFile string
	// CachedOwners bounds how many loaded stores are kept in memory.
	CachedOwners int64
}

// Registry resolves the Store for an owner and keeps recently used stores loaded.
// The files remain the source of truth: an evicted store is simply reloaded.
type Registry struct {
	cfg   RegistryConfig
	cache *ristretto.Cache
	mu    sync.Mutex
}

// NewRegistry builds a registry backed by a bounded ristretto cache.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Root == "" && cfg.SingleFile == "" {
		return nil, fmt.Errorf("memory registry requires a root directory or a single file")
	}
	if cfg.CachedOwners <= 0 {
		cfg.CachedOwners = defaultCachedOwners
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.CachedOwners * 10,
		MaxCost:     cfg.CachedOwners,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &Registry{cfg: cfg, cache: cache}, nil
}

// Path returns the document path used for owner.
func (r *Registry) Path(owner string) string {
	if r.cfg.SingleFile != "" {
		return r.cfg.SingleFile
	}
	return filepath.Join(r.cfg.Root, owner+"_memory.json")
}

// For returns the store of owner, loading it on a cache miss.
func (r *Registry) For(owner string) *Store {
	key := r.Path(owner)
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache.Get(key); ok {
		if store, ok := cached.(*Store); ok {
			return store
		}
	}

	store := NewStore(key)
	r.cache.Set(key, store, 1)
	r.cache.Wait()
	return store
}

// Close releases the cache.
func (r *Registry) Close() {
	r.cache.Close()
}
