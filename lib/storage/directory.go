// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/codec"
)

// Directory names within each namespace.
const (
	blobsDir = "blobs"
	refsDir  = "refs"
	tmpDir   = "tmp"
)

// RefRecord is the on-disk form of a ref. The original name is kept so
// a directory scan can recover it from the hashed path.
type RefRecord struct {
	Name      RefName   `cbor:"name"`
	Bucket    Bucket    `cbor:"bucket"`
	Target    blob.Hash `cbor:"target"`
	CreatedAt time.Time `cbor:"created_at"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

// DirectoryStore keeps blobs and refs under a root directory.
//
// On-disk layout:
//
//	<root>/<namespace>/blobs/<hex[:2]>/<hex[2:4]>/<hex>
//	<root>/<namespace>/refs/<bucket>/<nh[:2]>/<nh[2:4]>/<nh>.cbor
//	<root>/<namespace>/tmp/
//
// where hex is the blob hash and nh is the name-domain hash of the ref
// name. Every write goes through tmp/ and an atomic rename, so readers
// never see partial files. Blob contents are verified against their
// hash on read.
type DirectoryStore struct {
	root  string
	clock clock.Clock

	// refMu serializes ref updates so CreatedAt survives overwrites.
	refMu sync.Mutex
}

// NewDirectoryStore returns a store rooted at root, creating it if
// needed.
func NewDirectoryStore(root string, clk clock.Clock) (*DirectoryStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root %s: %w", root, err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &DirectoryStore{root: root, clock: clk}, nil
}

// Root returns the store's root directory.
func (s *DirectoryStore) Root() string {
	return s.root
}

func (s *DirectoryStore) ReadBlob(ctx context.Context, namespace Namespace, hash blob.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := namespace.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.blobPath(namespace, hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s in namespace %s: %w", hash, namespace, ErrNotFound)
		}
		return nil, fmt.Errorf("reading blob %s: %w", hash, err)
	}
	if actual := blob.Sum(data); actual != hash {
		return nil, fmt.Errorf("blob %s is corrupt on disk (content hashes to %s)", hash, actual)
	}
	return data, nil
}

func (s *DirectoryStore) WriteBlob(ctx context.Context, namespace Namespace, data []byte) (blob.Hash, error) {
	if err := ctx.Err(); err != nil {
		return blob.Hash{}, err
	}
	if err := namespace.Validate(); err != nil {
		return blob.Hash{}, err
	}
	hash := blob.Sum(data)
	finalPath := s.blobPath(namespace, hash)

	// Same content, same hash: an existing file is identical by
	// construction.
	if _, err := os.Stat(finalPath); err == nil {
		return hash, nil
	}
	if err := s.writeAtomic(namespace, "blob-*", finalPath, data); err != nil {
		return blob.Hash{}, fmt.Errorf("writing blob %s: %w", hash, err)
	}
	return hash, nil
}

func (s *DirectoryStore) ReadRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record, err := s.readRefRecord(namespace, bucket, name)
	if err != nil {
		return nil, err
	}
	data, err := s.ReadBlob(ctx, namespace, record.Target)
	if err != nil {
		return nil, fmt.Errorf("reading target of ref %s/%s/%s: %w", namespace, bucket, name, err)
	}
	return data, nil
}

func (s *DirectoryStore) WriteRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName, data []byte) (blob.Hash, error) {
	if err := validateRef(namespace, bucket, name); err != nil {
		return blob.Hash{}, err
	}
	hash, err := s.WriteBlob(ctx, namespace, data)
	if err != nil {
		return blob.Hash{}, err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	now := s.clock.Now().UTC()
	record := RefRecord{
		Name:      name,
		Bucket:    bucket,
		Target:    hash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := s.readRefRecord(namespace, bucket, name); err == nil {
		record.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return blob.Hash{}, err
	}

	encoded, err := codec.Marshal(record)
	if err != nil {
		return blob.Hash{}, fmt.Errorf("encoding ref record: %w", err)
	}
	if err := s.writeAtomic(namespace, "ref-*.cbor", s.refPath(namespace, bucket, name), encoded); err != nil {
		return blob.Hash{}, fmt.Errorf("writing ref %s/%s/%s: %w", namespace, bucket, name, err)
	}
	return hash, nil
}

// Stat returns the stored record for a ref.
func (s *DirectoryStore) Stat(namespace Namespace, bucket Bucket, name RefName) (*RefRecord, error) {
	return s.readRefRecord(namespace, bucket, name)
}

func (s *DirectoryStore) readRefRecord(namespace Namespace, bucket Bucket, name RefName) (*RefRecord, error) {
	if err := validateRef(namespace, bucket, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.refPath(namespace, bucket, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ref %s/%s/%s: %w", namespace, bucket, name, ErrNotFound)
		}
		return nil, fmt.Errorf("reading ref %s/%s/%s: %w", namespace, bucket, name, err)
	}
	var record RefRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding ref %s/%s/%s: %w", namespace, bucket, name, err)
	}
	if record.Name != name {
		return nil, fmt.Errorf("ref file for %q holds record for %q", name, record.Name)
	}
	return &record, nil
}

// writeAtomic writes data to a temp file under the namespace's tmp
// directory and renames it into place.
func (s *DirectoryStore) writeAtomic(namespace Namespace, pattern, finalPath string, data []byte) error {
	tmp := filepath.Join(s.root, string(namespace), tmpDir)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(tmp, pattern)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming to %s: %w", finalPath, err)
	}
	success = true
	return nil
}

func (s *DirectoryStore) blobPath(namespace Namespace, hash blob.Hash) string {
	hex := blob.FormatHash(hash)
	return filepath.Join(s.root, string(namespace), blobsDir, hex[:2], hex[2:4], hex)
}

func (s *DirectoryStore) refPath(namespace Namespace, bucket Bucket, name RefName) string {
	hex := blob.FormatHash(blob.NameHash(string(name)))
	return filepath.Join(s.root, string(namespace), refsDir, string(bucket), hex[:2], hex[2:4], hex+".cbor")
}
