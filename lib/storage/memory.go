// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/buildagent/lib/blob"
)

type blobKey struct {
	namespace Namespace
	hash      blob.Hash
}

// MemoryStore is an in-process Store. It counts reads and writes per
// blob so callers can assert on transfer behaviour. Safe for
// concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	blobs      map[blobKey][]byte
	refs       map[refKey]blob.Hash
	blobWrites map[blobKey]int
	blobReads  map[blobKey]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:      make(map[blobKey][]byte),
		refs:       make(map[refKey]blob.Hash),
		blobWrites: make(map[blobKey]int),
		blobReads:  make(map[blobKey]int),
	}
}

func (s *MemoryStore) ReadBlob(ctx context.Context, namespace Namespace, hash blob.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blobKey{namespace, hash}
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s in namespace %s: %w", hash, namespace, ErrNotFound)
	}
	s.blobReads[key]++
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) WriteBlob(ctx context.Context, namespace Namespace, data []byte) (blob.Hash, error) {
	if err := ctx.Err(); err != nil {
		return blob.Hash{}, err
	}
	if err := namespace.Validate(); err != nil {
		return blob.Hash{}, err
	}
	hash := blob.Sum(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blobKey{namespace, hash}
	s.blobWrites[key]++
	if _, exists := s.blobs[key]; !exists {
		s.blobs[key] = append([]byte(nil), data...)
	}
	return hash, nil
}

func (s *MemoryStore) ReadRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	target, ok := s.refs[refKey{namespace, bucket, name}]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ref %s/%s/%s: %w", namespace, bucket, name, ErrNotFound)
	}
	return s.ReadBlob(ctx, namespace, target)
}

func (s *MemoryStore) WriteRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName, data []byte) (blob.Hash, error) {
	if err := validateRef(namespace, bucket, name); err != nil {
		return blob.Hash{}, err
	}
	hash, err := s.WriteBlob(ctx, namespace, data)
	if err != nil {
		return blob.Hash{}, err
	}
	s.mu.Lock()
	s.refs[refKey{namespace, bucket, name}] = hash
	s.mu.Unlock()
	return hash, nil
}

// RefTarget returns the blob a ref points to, or false if unset.
func (s *MemoryStore) RefTarget(namespace Namespace, bucket Bucket, name RefName) (blob.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.refs[refKey{namespace, bucket, name}]
	return hash, ok
}

// WriteCount returns how many times WriteBlob was called with content
// hashing to hash, including deduplicated writes.
func (s *MemoryStore) WriteCount(namespace Namespace, hash blob.Hash) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobWrites[blobKey{namespace, hash}]
}

// ReadCount returns how many successful reads of hash have occurred.
func (s *MemoryStore) ReadCount(namespace Namespace, hash blob.Hash) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobReads[blobKey{namespace, hash}]
}

// TotalWrites returns the number of WriteBlob calls across all blobs.
func (s *MemoryStore) TotalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, count := range s.blobWrites {
		total += count
	}
	return total
}

// BlobCount returns the number of distinct blobs stored.
func (s *MemoryStore) BlobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// ResetCounters zeroes read and write counters without touching the
// stored data.
func (s *MemoryStore) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.blobWrites)
	clear(s.blobReads)
}
