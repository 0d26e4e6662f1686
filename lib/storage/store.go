// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/blob"
)

// ErrNotFound is wrapped by every error reporting a missing blob or ref.
var ErrNotFound = errors.New("not found")

// Namespace partitions blobs and refs between independent projects.
type Namespace string

// Bucket groups refs of one kind (temp storage, compute, uploads)
// within a namespace.
type Bucket string

// RefName is a slash-separated mutable name within a bucket.
type RefName string

// MaxIdentifierLength bounds namespace and bucket names.
const MaxIdentifierLength = 128

// MaxRefNameLength bounds ref names.
const MaxRefNameLength = 512

// Store reads and writes blobs and refs.
type Store interface {
	// ReadBlob returns the bytes stored under hash.
	ReadBlob(ctx context.Context, namespace Namespace, hash blob.Hash) ([]byte, error)

	// WriteBlob stores data and returns its hash. Writing the same
	// bytes twice is a no-op that returns the same hash.
	WriteBlob(ctx context.Context, namespace Namespace, data []byte) (blob.Hash, error)

	// ReadRef returns the bytes of the blob the ref points to.
	ReadRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName) ([]byte, error)

	// WriteRef stores data as a blob and points the ref at it,
	// replacing any previous target.
	WriteRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName, data []byte) (blob.Hash, error)
}

// Validate reports whether the namespace is well formed.
func (n Namespace) Validate() error {
	return validateIdentifier("namespace", string(n))
}

// Validate reports whether the bucket is well formed.
func (b Bucket) Validate() error {
	return validateIdentifier("bucket", string(b))
}

// Validate reports whether the ref name is well formed: non-empty,
// at most MaxRefNameLength bytes, no empty segments.
func (r RefName) Validate() error {
	name := string(r)
	if name == "" {
		return errors.New("ref name is empty")
	}
	if len(name) > MaxRefNameLength {
		return fmt.Errorf("ref name is %d bytes, maximum is %d", len(name), MaxRefNameLength)
	}
	for segment := range strings.SplitSeq(name, "/") {
		if segment == "" {
			return fmt.Errorf("ref name %q has an empty segment", name)
		}
		if segment == "." || segment == ".." {
			return fmt.Errorf("ref name %q contains a %q segment", name, segment)
		}
	}
	if strings.ContainsAny(name, "\x00\n") {
		return fmt.Errorf("ref name %q contains a control character", name)
	}
	return nil
}

func validateIdentifier(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s is empty", kind)
	}
	if len(value) > MaxIdentifierLength {
		return fmt.Errorf("%s %q is %d bytes, maximum is %d", kind, value, len(value), MaxIdentifierLength)
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("%s %q contains invalid character %q", kind, value, c)
		}
	}
	return nil
}

func validateRef(namespace Namespace, bucket Bucket, name RefName) error {
	if err := namespace.Validate(); err != nil {
		return err
	}
	if err := bucket.Validate(); err != nil {
		return err
	}
	return name.Validate()
}

// refKey is the map key for a ref in stores that index refs in memory.
type refKey struct {
	namespace Namespace
	bucket    Bucket
	name      RefName
}
