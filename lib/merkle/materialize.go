// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// defaultFileMode applies to file nodes recorded without permission
// bits.
const defaultFileMode fs.FileMode = 0o644

// Reader downloads Merkle trees.
type Reader struct {
	Store     storage.Store
	Namespace storage.Namespace
	Logger    *slog.Logger
}

// ReadTree fetches and decodes the tree stored under hash.
func (r *Reader) ReadTree(ctx context.Context, hash blob.Hash) (*DirectoryTree, error) {
	data, err := r.Store.ReadBlob(ctx, r.Namespace, hash)
	if err != nil {
		return nil, fmt.Errorf("reading directory tree %s: %w", hash, err)
	}
	tree, err := DecodeTree(data)
	if err != nil {
		return nil, fmt.Errorf("directory tree %s: %w", hash, err)
	}
	return tree, nil
}

// ReadFile fetches and decompresses the content of one file node.
func (r *Reader) ReadFile(ctx context.Context, node FileNode) ([]byte, error) {
	stored, err := r.Store.ReadBlob(ctx, r.Namespace, node.Hash)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", node.Name, err)
	}
	content, err := blob.Decompress(stored, node.Compression, node.Length)
	if err != nil {
		return nil, fmt.Errorf("decompressing file %s: %w", node.Name, err)
	}
	if int64(len(content)) != node.Length {
		return nil, fmt.Errorf("file %s: got %d bytes, tree records %d", node.Name, len(content), node.Length)
	}
	return content, nil
}

// Materialize recreates tree under outputDir. Every file and subtree is
// fetched concurrently; the call returns once all of them have
// finished. The first failure cancels the rest. Existing files at the
// same paths are overwritten; other existing files are left alone.
func (r *Reader) Materialize(ctx context.Context, tree *DirectoryTree, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", outputDir, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, file := range tree.Files {
		group.Go(func() error {
			return r.writeFile(groupCtx, file, filepath.Join(outputDir, file.Name))
		})
	}
	for _, directory := range tree.Directories {
		group.Go(func() error {
			subtree, err := r.ReadTree(groupCtx, directory.Hash)
			if err != nil {
				return err
			}
			return r.Materialize(groupCtx, subtree, filepath.Join(outputDir, directory.Name))
		})
	}
	return group.Wait()
}

// MaterializeHash fetches the tree stored under hash and materializes
// it under outputDir.
func (r *Reader) MaterializeHash(ctx context.Context, hash blob.Hash, outputDir string) error {
	tree, err := r.ReadTree(ctx, hash)
	if err != nil {
		return err
	}
	if err := r.Materialize(ctx, tree, outputDir); err != nil {
		return err
	}
	r.logger().Debug("materialized tree", "hash", hash.Short(), "output", outputDir)
	return nil
}

func (r *Reader) writeFile(ctx context.Context, node FileNode, path string) error {
	content, err := r.ReadFile(ctx, node)
	if err != nil {
		return err
	}
	mode := fs.FileMode(node.Mode).Perm()
	if mode == 0 {
		mode = defaultFileMode
	}
	// A previous materialization may have left a read-only file here.
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	// WriteFile applies the umask.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("setting mode of %s: %w", path, err)
	}
	return nil
}

func (r *Reader) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
