// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/bureau-foundation/buildagent/lib/blob"
)

// CacheConfig sizes a CachingStore.
type CacheConfig struct {
	// MaxSizeMB bounds the cache's memory. Required.
	MaxSizeMB int

	// LifeWindow is how long an entry is guaranteed to stay before it
	// may be evicted to make room. Default: 1h
	LifeWindow time.Duration
}

// CachingStore keeps recently read blobs in memory. Blobs are
// immutable, so cached bytes never go stale; refs are never cached.
// Blobs too large for a cache shard are passed through uncached.
type CachingStore struct {
	Store
	cache *bigcache.BigCache
}

// NewCachingStore wraps inner with a blob read cache. Close releases
// the cache.
func NewCachingStore(inner Store, config CacheConfig) (*CachingStore, error) {
	if config.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d MB", config.MaxSizeMB)
	}
	if config.LifeWindow <= 0 {
		config.LifeWindow = time.Hour
	}

	cacheConfig := bigcache.DefaultConfig(config.LifeWindow)
	cacheConfig.Shards = 64
	cacheConfig.HardMaxCacheSize = config.MaxSizeMB
	cacheConfig.MaxEntrySize = 64 * 1024
	cacheConfig.MaxEntriesInWindow = config.MaxSizeMB * 16
	cacheConfig.Verbose = false

	cache, err := bigcache.New(context.Background(), cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("creating blob cache: %w", err)
	}
	return &CachingStore{Store: inner, cache: cache}, nil
}

// ReadBlob serves from the cache when possible and caches what it
// reads from the underlying store.
func (s *CachingStore) ReadBlob(ctx context.Context, namespace Namespace, hash blob.Hash) ([]byte, error) {
	key := cacheKey(namespace, hash)
	if data, err := s.cache.Get(key); err == nil {
		return data, nil
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, fmt.Errorf("reading blob cache: %w", err)
	}

	data, err := s.Store.ReadBlob(ctx, namespace, hash)
	if err != nil {
		return nil, err
	}
	// A blob larger than a shard cannot be cached; that is not an
	// error for the reader.
	_ = s.cache.Set(key, data)
	return data, nil
}

// Dial returns a client for the blob service at socketPath. When
// cacheSizeMB is positive the client is wrapped in a CachingStore.
// The returned function releases whatever Dial allocated.
func Dial(socketPath string, cacheSizeMB int) (Store, func() error, error) {
	client := NewClient(socketPath)
	if cacheSizeMB <= 0 {
		return client, func() error { return nil }, nil
	}
	cached, err := NewCachingStore(client, CacheConfig{MaxSizeMB: cacheSizeMB})
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}

// Stats reports cache hits and misses.
func (s *CachingStore) Stats() bigcache.Stats {
	return s.cache.Stats()
}

// Close releases the cache.
func (s *CachingStore) Close() error {
	return s.cache.Close()
}

func cacheKey(namespace Namespace, hash blob.Hash) string {
	return string(namespace) + "/" + hash.String()
}
