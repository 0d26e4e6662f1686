// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// blockSync is the outcome of fetching one block.
type blockSync struct {
	ref    BlockRef
	files  []File
	reused bool
}

// SyncInputs fetches the files of every input tag into the workspace.
//
// Every input is parsed before anything is transferred. Each producing
// node's output ref is read once, and each distinct block named by the
// requested tags is fetched once, concurrently with the others. Blocks
// already on disk, with a local manifest copy matching both the
// published manifest and the workspace, are not downloaded again. On
// return the ledger knows which block owns every input file and the
// state each file was left in.
func (c *Client) SyncInputs(ctx context.Context, ledger *Ledger, inputs []string) error {
	refs, err := ParseInputs(inputs)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	trees := c.newNodeTrees()
	blocks := make(map[BlockRef]struct{})
	tagPaths := make(map[string][]string)
	for _, ref := range refs {
		tree, err := trees.get(ctx, ref.NodeName)
		if err != nil {
			return err
		}
		data, err := c.readManifestFile(ctx, tree, ref.NodeName, TagManifestName(ref.TagName))
		if err != nil {
			return fmt.Errorf("input %s: %w", ref, err)
		}
		manifest, err := DecodeTagManifest(data)
		if err != nil {
			return fmt.Errorf("input %s: %w", ref, err)
		}
		if c.Manifests.Root != "" {
			if err := c.Manifests.WriteTag(ref.NodeName, ref.TagName, manifest); err != nil {
				return err
			}
		}
		tagPaths[ref.String()] = manifest.Files
		for _, block := range manifest.Blocks {
			blocks[block] = struct{}{}
		}
	}

	ordered := slices.SortedFunc(maps.Keys(blocks), compareBlockRefs)
	results := make([]blockSync, len(ordered))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, block := range ordered {
		group.Go(func() error {
			result, err := c.syncBlock(groupCtx, ledger, trees, block)
			if err != nil {
				return fmt.Errorf("block %s: %w", block, err)
			}
			results[index] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	var downloaded, reused int
	var bytes int64
	for _, result := range results {
		if result.reused {
			reused++
		} else {
			downloaded++
		}
		for _, file := range result.files {
			path := ledger.absolute(file.RelativePath)
			ledger.fileBlocks[path] = result.ref
			ledger.inputs[path] = file
			bytes += file.Length
		}
	}
	for tag, paths := range tagPaths {
		for _, relative := range paths {
			ledger.addTagFile(tag, ledger.absolute(relative))
		}
	}

	c.logger().Info("synced temp storage inputs",
		"node", ledger.NodeName(),
		"inputs", len(refs),
		"blocks_downloaded", downloaded,
		"blocks_reused", reused,
		"bytes", humanize.IBytes(uint64(bytes)),
	)
	return nil
}

// syncBlock fetches one block into the workspace, or confirms that
// the copy already on disk is the one currently published.
func (c *Client) syncBlock(ctx context.Context, ledger *Ledger, trees *nodeTrees, block BlockRef) (blockSync, error) {
	tree, err := trees.get(ctx, block.NodeName)
	if err != nil {
		return blockSync{}, err
	}
	manifestData, err := c.readManifestFile(ctx, tree, block.NodeName, BlockManifestName(block.BlockName))
	if err != nil {
		return blockSync{}, err
	}
	manifest, err := DecodeBlockManifest(manifestData)
	if err != nil {
		return blockSync{}, err
	}

	if files, ok := c.reusableBlock(ledger, block, manifest); ok {
		c.logger().Debug("reusing block already on disk", "block", block.String())
		return blockSync{ref: block, files: files, reused: true}, nil
	}

	contents, ok := tree.Directory(BlockDirectoryName(block.BlockName))
	if !ok {
		return blockSync{}, fmt.Errorf("node %s did not publish block contents (tag not in its published outputs?)", block.NodeName)
	}
	if err := c.reader().MaterializeHash(ctx, contents.Hash, ledger.Workspace()); err != nil {
		return blockSync{}, err
	}

	files := make([]File, 0, len(manifest.Files))
	for _, entry := range manifest.Files {
		path := ledger.absolute(entry.RelativePath)
		info, err := os.Stat(path)
		if err != nil {
			return blockSync{}, fmt.Errorf("block file %s missing after download: %w", entry.RelativePath, err)
		}
		if info.Size() != entry.Length {
			return blockSync{}, fmt.Errorf("block file %s is %d bytes, manifest records %d", entry.RelativePath, info.Size(), entry.Length)
		}
		files = append(files, File{
			RelativePath:  entry.RelativePath,
			Length:        info.Size(),
			LastWriteTime: info.ModTime().UnixNano(),
			Digest:        entry.Digest,
			Mode:          uint32(info.Mode().Perm()),
		})
	}

	if c.Manifests.Root != "" {
		local := &BlockManifest{Files: files, TotalSize: manifest.TotalSize}
		if err := c.Manifests.WriteBlock(block.NodeName, block.BlockName, local); err != nil {
			return blockSync{}, err
		}
	}
	return blockSync{ref: block, files: files}, nil
}

// reusableBlock reports whether the workspace already holds the
// published contents of block. The local manifest copy must list the
// same files with the same digests as published, and every file on
// disk must still have the size and modification time recorded
// locally. It returns the local records if so.
func (c *Client) reusableBlock(ledger *Ledger, block BlockRef, published *BlockManifest) ([]File, bool) {
	if c.Manifests.Root == "" || !c.Manifests.HasBlock(block.NodeName, block.BlockName) {
		return nil, false
	}
	local, err := c.Manifests.ReadBlock(block.NodeName, block.BlockName)
	if err != nil {
		c.logger().Warn("ignoring unreadable local block manifest", "block", block.String(), "error", err)
		return nil, false
	}
	if len(local.Files) != len(published.Files) {
		return nil, false
	}
	recorded := make(map[string]File, len(local.Files))
	for _, file := range local.Files {
		recorded[file.RelativePath] = file
	}
	for _, want := range published.Files {
		file, ok := recorded[want.RelativePath]
		if !ok || file.Digest != want.Digest || file.Length != want.Length {
			return nil, false
		}
		info, err := os.Stat(ledger.absolute(file.RelativePath))
		if err != nil || info.Size() != file.Length || info.ModTime().UnixNano() != file.LastWriteTime {
			return nil, false
		}
	}
	return local.Files, true
}
