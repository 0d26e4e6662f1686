// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/jobapi"
	"github.com/bureau-foundation/buildagent/lib/merkle"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// Client transfers temp storage between the workspace and the store.
type Client struct {
	Store     storage.Store
	Namespace storage.Namespace
	Bucket    storage.Bucket

	// RefPrefix scopes output refs, typically to one job:
	// RefName(RefPrefix, node).
	RefPrefix string

	// Manifests, when Root is set, receives local copies of every
	// manifest this client reads or writes.
	Manifests ManifestDir

	// Registrar, when set, is told about every published output tree.
	Registrar jobapi.Registrar
	JobID     string
	StepID    string

	// Compress stores block files compressed when that pays off.
	Compress bool

	Logger *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) reader() *merkle.Reader {
	return &merkle.Reader{Store: c.Store, Namespace: c.Namespace, Logger: c.Logger}
}

func (c *Client) builder() *merkle.Builder {
	return &merkle.Builder{Store: c.Store, Namespace: c.Namespace, Compress: c.Compress, Logger: c.Logger}
}

// nodeTrees caches the published output tree of each node read during
// one sync, so every node's ref is read once.
type nodeTrees struct {
	client *Client
	mu     sync.Mutex
	trees  map[string]*nodeTreeEntry
}

type nodeTreeEntry struct {
	once sync.Once
	tree *merkle.DirectoryTree
	err  error
}

func (c *Client) newNodeTrees() *nodeTrees {
	return &nodeTrees{client: c, trees: make(map[string]*nodeTreeEntry)}
}

func (n *nodeTrees) get(ctx context.Context, node string) (*merkle.DirectoryTree, error) {
	n.mu.Lock()
	entry, ok := n.trees[node]
	if !ok {
		entry = &nodeTreeEntry{}
		n.trees[node] = entry
	}
	n.mu.Unlock()

	entry.once.Do(func() {
		name := RefName(n.client.RefPrefix, node)
		data, err := n.client.Store.ReadRef(ctx, n.client.Namespace, n.client.Bucket, name)
		if err != nil {
			entry.err = fmt.Errorf("reading outputs of node %s (ref %s): %w", node, name, err)
			return
		}
		entry.tree, entry.err = merkle.DecodeTree(data)
		if entry.err != nil {
			entry.err = fmt.Errorf("outputs of node %s: %w", node, entry.err)
		}
	})
	return entry.tree, entry.err
}

// readManifestFile fetches one manifest file entry from a node's
// output tree.
func (c *Client) readManifestFile(ctx context.Context, tree *merkle.DirectoryTree, node, name string) ([]byte, error) {
	file, ok := tree.File(name)
	if !ok {
		return nil, fmt.Errorf("node %s published no %s", node, name)
	}
	return c.reader().ReadFile(ctx, file)
}

// writeManifestBlob stores an encoded manifest and returns its tree
// entry.
func (c *Client) writeManifestBlob(ctx context.Context, name string, data []byte) (merkle.FileNode, error) {
	hash, err := c.Store.WriteBlob(ctx, c.Namespace, data)
	if err != nil {
		return merkle.FileNode{}, fmt.Errorf("writing %s: %w", name, err)
	}
	return merkle.FileNode{
		Name:        name,
		Hash:        hash,
		Length:      int64(len(data)),
		Mode:        0o644,
		Compression: blob.CompressionNone,
	}, nil
}
