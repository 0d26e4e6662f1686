// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/codec"
)

// FileNode is a leaf of a DirectoryTree.
type FileNode struct {
	Name string `cbor:"name"`

	// Hash addresses the stored bytes, which are compressed when
	// Compression is not none.
	Hash blob.Hash `cbor:"hash"`

	// Length is the uncompressed size in bytes.
	Length int64 `cbor:"length"`

	// Mode holds the permission bits applied on materialization.
	Mode uint32 `cbor:"mode"`

	Compression blob.CompressionTag `cbor:"compression"`
}

// IsCompressed reports whether the stored bytes need decompression.
func (f FileNode) IsCompressed() bool {
	return f.Compression != blob.CompressionNone
}

// DirectoryNode references a child directory's tree blob.
type DirectoryNode struct {
	Name string    `cbor:"name"`
	Hash blob.Hash `cbor:"hash"`
}

// DirectoryTree is the content of one directory.
type DirectoryTree struct {
	Files       []FileNode      `cbor:"files"`
	Directories []DirectoryNode `cbor:"directories"`
}

// normalize sorts both child lists by name in place.
func (t *DirectoryTree) normalize() {
	slices.SortFunc(t.Files, func(a, b FileNode) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(t.Directories, func(a, b DirectoryNode) int { return strings.Compare(a.Name, b.Name) })
}

// Encode returns the canonical encoding of the tree. The receiver is
// not modified.
func (t *DirectoryTree) Encode() ([]byte, error) {
	canonical := DirectoryTree{
		Files:       make([]FileNode, len(t.Files)),
		Directories: make([]DirectoryNode, len(t.Directories)),
	}
	copy(canonical.Files, t.Files)
	copy(canonical.Directories, t.Directories)
	canonical.normalize()
	if err := canonical.validate(); err != nil {
		return nil, err
	}
	data, err := codec.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("encoding directory tree: %w", err)
	}
	return data, nil
}

// Hash returns the blob hash of the tree's canonical encoding.
func (t *DirectoryTree) Hash() (blob.Hash, error) {
	data, err := t.Encode()
	if err != nil {
		return blob.Hash{}, err
	}
	return blob.Sum(data), nil
}

// File returns the file entry called name.
func (t *DirectoryTree) File(name string) (FileNode, bool) {
	for _, file := range t.Files {
		if file.Name == name {
			return file, true
		}
	}
	return FileNode{}, false
}

// Directory returns the subdirectory entry called name.
func (t *DirectoryTree) Directory(name string) (DirectoryNode, bool) {
	for _, directory := range t.Directories {
		if directory.Name == name {
			return directory, true
		}
	}
	return DirectoryNode{}, false
}

// DecodeTree parses and validates an encoded DirectoryTree.
func DecodeTree(data []byte) (*DirectoryTree, error) {
	var tree DirectoryTree
	if err := codec.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decoding directory tree: %w", err)
	}
	if err := tree.validate(); err != nil {
		return nil, err
	}
	return &tree, nil
}

// validate checks that every child name is a single safe path segment
// and that no name appears twice.
func (t *DirectoryTree) validate() error {
	seen := make(map[string]struct{}, len(t.Files)+len(t.Directories))
	check := func(kind, name string) error {
		if err := validateName(name); err != nil {
			return fmt.Errorf("%s entry: %w", kind, err)
		}
		if _, duplicate := seen[name]; duplicate {
			return fmt.Errorf("%s entry %q duplicates another entry", kind, name)
		}
		seen[name] = struct{}{}
		return nil
	}
	for _, file := range t.Files {
		if err := check("file", file.Name); err != nil {
			return err
		}
		if file.Length < 0 {
			return fmt.Errorf("file entry %q has negative length %d", file.Name, file.Length)
		}
	}
	for _, directory := range t.Directories {
		if err := check("directory", directory.Name); err != nil {
			return err
		}
	}
	return nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("reserved name %q", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("name %q contains a path separator or NUL", name)
	}
	return nil
}
