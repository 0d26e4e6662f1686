// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"testing"
)

func newCachingStore(t *testing.T, inner Store) *CachingStore {
	t.Helper()
	store, err := NewCachingStore(inner, CacheConfig{MaxSizeMB: 8})
	if err != nil {
		t.Fatalf("NewCachingStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCachingStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return newCachingStore(t, NewMemoryStore())
	})
}

func TestCachingStoreServesRepeatReads(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := newCachingStore(t, inner)

	data := []byte("cached blob")
	hash, err := store.WriteBlob(ctx, "ns", data)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	for range 3 {
		got, err := store.ReadBlob(ctx, "ns", hash)
		if err != nil {
			t.Fatalf("ReadBlob: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("ReadBlob = %q, want %q", got, data)
		}
	}
	if reads := inner.ReadCount("ns", hash); reads != 1 {
		t.Errorf("underlying reads = %d, want 1", reads)
	}
	if stats := store.Stats(); stats.Hits != 2 {
		t.Errorf("cache hits = %d, want 2", stats.Hits)
	}

	// Namespaces do not share entries.
	if _, err := store.WriteBlob(ctx, "other", data); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if _, err := store.ReadBlob(ctx, "other", hash); err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if reads := inner.ReadCount("other", hash); reads != 1 {
		t.Errorf("underlying reads in other namespace = %d, want 1", reads)
	}
}

func TestCachingStorePassesThroughOversizedBlobs(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := newCachingStore(t, inner)

	// Larger than one shard of an 8 MB, 64-shard cache.
	data := bytes.Repeat([]byte{0xab}, 512*1024)
	hash, err := store.WriteBlob(ctx, "ns", data)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	for range 2 {
		got, err := store.ReadBlob(ctx, "ns", hash)
		if err != nil {
			t.Fatalf("ReadBlob: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatal("oversized blob did not round trip")
		}
	}
	if reads := inner.ReadCount("ns", hash); reads != 2 {
		t.Errorf("underlying reads = %d, want 2", reads)
	}
}

func TestCachingStoreRequiresSize(t *testing.T) {
	if _, err := NewCachingStore(NewMemoryStore(), CacheConfig{}); err == nil {
		t.Error("expected error for zero cache size")
	}
}

func TestDial(t *testing.T) {
	store, release, err := Dial("/nonexistent/blob.sock", 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, ok := store.(*Client); !ok {
		t.Errorf("Dial without cache returned %T, want *Client", store)
	}
	if err := release(); err != nil {
		t.Errorf("release: %v", err)
	}

	store, release, err = Dial("/nonexistent/blob.sock", 1)
	if err != nil {
		t.Fatalf("Dial with cache: %v", err)
	}
	defer release()
	if _, ok := store.(*CachingStore); !ok {
		t.Errorf("Dial with cache returned %T, want *CachingStore", store)
	}
}
