// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// Builder uploads files and directories as Merkle trees.
type Builder struct {
	Store     storage.Store
	Namespace storage.Namespace

	// Compress stores file contents compressed when that pays off.
	Compress bool

	// MaxConcurrentUploads caps concurrent file uploads. Zero leaves
	// fan-out bounded only by the breadth of the tree.
	MaxConcurrentUploads int

	Logger *slog.Logger
}

// buildStats summarizes one Build or ImportDirectory call.
type buildStats struct {
	Files       int64
	Directories int64

	// Bytes is the uncompressed size of all files.
	Bytes int64

	// StoredBytes counts bytes actually sent to the store, after
	// compression and deduplication.
	StoredBytes int64

	// Deduplicated counts blob writes skipped because the same bytes
	// were already written by this build.
	Deduplicated int64
}

// Build uploads the files named by paths, which are absolute or
// relative to root and must lie beneath it, and returns the root tree
// and its hash. Only the listed files are included; directories appear
// only as ancestors of listed files.
func (b *Builder) Build(ctx context.Context, root string, paths []string) (*DirectoryTree, blob.Hash, error) {
	relative := make([]string, 0, len(paths))
	for _, path := range paths {
		rel, err := relativeTo(root, path)
		if err != nil {
			return nil, blob.Hash{}, err
		}
		relative = append(relative, rel)
	}
	slices.Sort(relative)
	relative = slices.Compact(relative)

	state := b.newBuildState()
	tree, hash, err := state.buildLevel(ctx, root, relative)
	if err != nil {
		return nil, blob.Hash{}, err
	}
	state.logSummary("built merkle tree", root, hash)
	return tree, hash, nil
}

// ImportDirectory uploads everything beneath dir, including empty
// directories, and returns the root tree and its hash. For a directory
// with no empty subdirectories the hash equals that of Build over all
// of its files.
func (b *Builder) ImportDirectory(ctx context.Context, dir string) (*DirectoryTree, blob.Hash, error) {
	state := b.newBuildState()
	tree, hash, err := state.importLevel(ctx, dir)
	if err != nil {
		return nil, blob.Hash{}, err
	}
	state.logSummary("imported directory", dir, hash)
	return tree, hash, nil
}

// CreateFileNode reads the file at path, compresses it if enabled, and
// uploads it. The returned node is named name.
func (b *Builder) CreateFileNode(ctx context.Context, path, name string) (FileNode, error) {
	return b.newBuildState().createFileNode(ctx, path, name)
}

// buildState is the per-call state of one upload.
type buildState struct {
	builder   *Builder
	logger    *slog.Logger
	semaphore *semaphore.Weighted

	mu       sync.Mutex
	inflight map[blob.Hash]*pendingWrite

	stats buildStats
}

// pendingWrite lets concurrent writers of identical bytes share one
// store write.
type pendingWrite struct {
	done chan struct{}
	err  error
}

func (b *Builder) newBuildState() *buildState {
	state := &buildState{
		builder:  b,
		logger:   b.Logger,
		inflight: make(map[blob.Hash]*pendingWrite),
	}
	if state.logger == nil {
		state.logger = slog.Default()
	}
	if b.MaxConcurrentUploads > 0 {
		state.semaphore = semaphore.NewWeighted(int64(b.MaxConcurrentUploads))
	}
	return state
}

// buildLevel builds the tree for one directory. entries are sorted
// slash-separated paths relative to dir. Entries without a separator
// are files of this directory; a run of entries sharing a "name/"
// prefix forms one child directory. Sorting makes each run contiguous.
func (s *buildState) buildLevel(ctx context.Context, dir string, entries []string) (*DirectoryTree, blob.Hash, error) {
	type childGroup struct {
		name    string
		entries []string
	}
	var fileNames []string
	var childGroups []childGroup
	for index := 0; index < len(entries); {
		entry := entries[index]
		separator := strings.IndexByte(entry, '/')
		if separator < 0 {
			fileNames = append(fileNames, entry)
			index++
			continue
		}
		prefix := entry[:separator+1]
		child := childGroup{name: entry[:separator]}
		for index < len(entries) && strings.HasPrefix(entries[index], prefix) {
			child.entries = append(child.entries, entries[index][len(prefix):])
			index++
		}
		childGroups = append(childGroups, child)
	}

	tree := &DirectoryTree{
		Files:       make([]FileNode, len(fileNames)),
		Directories: make([]DirectoryNode, len(childGroups)),
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for slot, name := range fileNames {
		group.Go(func() error {
			node, err := s.createFileNode(groupCtx, filepath.Join(dir, name), name)
			if err != nil {
				return err
			}
			tree.Files[slot] = node
			return nil
		})
	}
	for slot, child := range childGroups {
		tree.Directories[slot].Name = child.name
		group.Go(func() error {
			_, hash, err := s.buildLevel(groupCtx, filepath.Join(dir, child.name), child.entries)
			if err != nil {
				return err
			}
			tree.Directories[slot].Hash = hash
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, blob.Hash{}, err
	}
	return s.writeTree(ctx, tree)
}

// importLevel builds the tree for dir from its on-disk contents.
func (s *buildState) importLevel(ctx context.Context, dir string) (*DirectoryTree, blob.Hash, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, blob.Hash{}, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var fileNames, directoryNames []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			directoryNames = append(directoryNames, name)
		case entry.Type().IsRegular():
			fileNames = append(fileNames, name)
		case entry.Type()&os.ModeSymlink != 0:
			// Symlinks to files are stored as the file's contents.
			// Symlinked directories are not followed.
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil {
				return nil, blob.Hash{}, fmt.Errorf("resolving symlink %s: %w", filepath.Join(dir, name), err)
			}
			if info.Mode().IsRegular() {
				fileNames = append(fileNames, name)
				continue
			}
			s.logger.Warn("skipping symlink to non-regular file", "path", filepath.Join(dir, name))
		default:
			s.logger.Warn("skipping unsupported file type", "path", filepath.Join(dir, name), "mode", entry.Type().String())
		}
	}

	tree := &DirectoryTree{
		Files:       make([]FileNode, len(fileNames)),
		Directories: make([]DirectoryNode, len(directoryNames)),
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for slot, name := range fileNames {
		group.Go(func() error {
			node, err := s.createFileNode(groupCtx, filepath.Join(dir, name), name)
			if err != nil {
				return err
			}
			tree.Files[slot] = node
			return nil
		})
	}
	for slot, name := range directoryNames {
		tree.Directories[slot].Name = name
		group.Go(func() error {
			_, hash, err := s.importLevel(groupCtx, filepath.Join(dir, name))
			if err != nil {
				return err
			}
			tree.Directories[slot].Hash = hash
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, blob.Hash{}, err
	}
	return s.writeTree(ctx, tree)
}

func (s *buildState) writeTree(ctx context.Context, tree *DirectoryTree) (*DirectoryTree, blob.Hash, error) {
	tree.normalize()
	data, err := tree.Encode()
	if err != nil {
		return nil, blob.Hash{}, err
	}
	hash, err := s.write(ctx, data)
	if err != nil {
		return nil, blob.Hash{}, fmt.Errorf("writing directory tree: %w", err)
	}
	atomic.AddInt64(&s.stats.Directories, 1)
	return tree, hash, nil
}

func (s *buildState) createFileNode(ctx context.Context, path, name string) (FileNode, error) {
	if s.semaphore != nil {
		if err := s.semaphore.Acquire(ctx, 1); err != nil {
			return FileNode{}, err
		}
		defer s.semaphore.Release(1)
	}

	info, err := os.Stat(path)
	if err != nil {
		return FileNode{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return FileNode{}, fmt.Errorf("%s is not a regular file", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileNode{}, fmt.Errorf("reading %s: %w", path, err)
	}

	stored, compression := content, blob.CompressionNone
	if s.builder.Compress {
		stored, compression, err = blob.CompressAuto(content)
		if err != nil {
			return FileNode{}, fmt.Errorf("compressing %s: %w", path, err)
		}
	}

	hash, err := s.write(ctx, stored)
	if err != nil {
		return FileNode{}, fmt.Errorf("uploading %s: %w", path, err)
	}
	atomic.AddInt64(&s.stats.Files, 1)
	atomic.AddInt64(&s.stats.Bytes, int64(len(content)))

	return FileNode{
		Name:        name,
		Hash:        hash,
		Length:      int64(len(content)),
		Mode:        uint32(info.Mode().Perm()),
		Compression: compression,
	}, nil
}

// write stores data, sharing the write with any concurrent or earlier
// write of the same bytes in this build.
func (s *buildState) write(ctx context.Context, data []byte) (blob.Hash, error) {
	hash := blob.Sum(data)

	s.mu.Lock()
	if pending, ok := s.inflight[hash]; ok {
		s.mu.Unlock()
		atomic.AddInt64(&s.stats.Deduplicated, 1)
		select {
		case <-pending.done:
			return hash, pending.err
		case <-ctx.Done():
			return blob.Hash{}, ctx.Err()
		}
	}
	pending := &pendingWrite{done: make(chan struct{})}
	s.inflight[hash] = pending
	s.mu.Unlock()

	stored, err := s.builder.Store.WriteBlob(ctx, s.builder.Namespace, data)
	if err == nil && stored != hash {
		err = fmt.Errorf("store returned hash %s for content hashing to %s", stored, hash)
	}
	pending.err = err
	close(pending.done)
	if err != nil {
		return blob.Hash{}, err
	}
	atomic.AddInt64(&s.stats.StoredBytes, int64(len(data)))
	return hash, nil
}

func (s *buildState) logSummary(message, root string, hash blob.Hash) {
	s.logger.Debug(message,
		"root", root,
		"hash", hash.Short(),
		"files", atomic.LoadInt64(&s.stats.Files),
		"directories", atomic.LoadInt64(&s.stats.Directories),
		"bytes", humanize.IBytes(uint64(atomic.LoadInt64(&s.stats.Bytes))),
		"stored", humanize.IBytes(uint64(atomic.LoadInt64(&s.stats.StoredBytes))),
		"deduplicated", atomic.LoadInt64(&s.stats.Deduplicated),
	)
}

// relativeTo converts path to a slash-separated path relative to root,
// rejecting anything outside root.
func relativeTo(root, path string) (string, error) {
	rel := path
	if filepath.IsAbs(path) {
		var err error
		rel, err = filepath.Rel(root, path)
		if err != nil {
			return "", fmt.Errorf("path %s is not under %s: %w", path, root, err)
		}
	}
	rel = filepath.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %s is not a file beneath %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}
