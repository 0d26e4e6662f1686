// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"context"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/jobapi"
	"github.com/bureau-foundation/buildagent/lib/merkle"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// PublishResult describes a published output tree.
type PublishResult struct {
	RefName  storage.RefName
	TreeHash blob.Hash

	// ArtifactID is set when a Registrar is configured.
	ArtifactID string

	// UploadedBlocks lists the block names whose contents were
	// uploaded, sorted.
	UploadedBlocks []string

	// UploadedBytes is the uncompressed size of the uploaded blocks.
	UploadedBytes int64
}

// Publish uploads the blocks that back the tags in publishOutputs and
// writes the node's output tree.
//
// Only this node's blocks referenced by a published tag are uploaded;
// blocks serving only unpublished tags stay local. Every tag manifest
// and every block manifest goes into the output tree regardless, and
// local copies are written to the manifest directory. The tree is
// stored under RefName(RefPrefix, node) and registered with the job
// service as a temp-storage artifact.
func (c *Client) Publish(ctx context.Context, ledger *Ledger, partition *Partition, publishOutputs []string) (*PublishResult, error) {
	node := partition.NodeName

	upload := make(map[string]struct{})
	for _, tag := range publishOutputs {
		manifest, ok := partition.Tags[tag]
		if !ok {
			return nil, fmt.Errorf("cannot publish tag %q: not a declared output of node %s", tag, node)
		}
		for _, block := range manifest.Blocks {
			if block.NodeName == node {
				upload[block.BlockName] = struct{}{}
			}
		}
	}

	var files []merkle.FileNode
	for _, tag := range partition.TagNames() {
		data, err := partition.Tags[tag].Encode()
		if err != nil {
			return nil, fmt.Errorf("encoding tag manifest %s: %w", tag, err)
		}
		file, err := c.writeManifestBlob(ctx, TagManifestName(tag), data)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	for _, block := range partition.BlockNames() {
		data, err := partition.Blocks[block].Encode()
		if err != nil {
			return nil, fmt.Errorf("encoding block manifest %s: %w", BlockRef{node, block}, err)
		}
		file, err := c.writeManifestBlob(ctx, BlockManifestName(block), data)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	uploadNames := make([]string, 0, len(upload))
	for block := range upload {
		if _, ok := partition.Blocks[block]; !ok {
			return nil, fmt.Errorf("published tag references block %s with no manifest", BlockRef{node, block})
		}
		uploadNames = append(uploadNames, block)
	}
	slices.Sort(uploadNames)

	directories := make([]merkle.DirectoryNode, len(uploadNames))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, block := range uploadNames {
		group.Go(func() error {
			paths := make([]string, 0, len(partition.Blocks[block].Files))
			for _, file := range partition.Blocks[block].Files {
				paths = append(paths, file.RelativePath)
			}
			_, hash, err := c.builder().Build(groupCtx, ledger.Workspace(), paths)
			if err != nil {
				return fmt.Errorf("uploading block %s: %w", BlockRef{node, block}, err)
			}
			directories[index] = merkle.DirectoryNode{Name: BlockDirectoryName(block), Hash: hash}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	tree := &merkle.DirectoryTree{Files: files, Directories: directories}
	encoded, err := tree.Encode()
	if err != nil {
		return nil, err
	}
	refName := RefName(c.RefPrefix, node)
	treeHash, err := c.Store.WriteRef(ctx, c.Namespace, c.Bucket, refName, encoded)
	if err != nil {
		return nil, fmt.Errorf("writing output ref %s: %w", refName, err)
	}

	result := &PublishResult{
		RefName:        refName,
		TreeHash:       treeHash,
		UploadedBlocks: uploadNames,
	}
	for _, block := range uploadNames {
		result.UploadedBytes += partition.Blocks[block].TotalSize
	}

	if c.Manifests.Root != "" {
		for _, tag := range partition.TagNames() {
			if err := c.Manifests.WriteTag(node, tag, partition.Tags[tag]); err != nil {
				return nil, err
			}
		}
		for _, block := range partition.BlockNames() {
			if err := c.Manifests.WriteBlock(node, block, partition.Blocks[block]); err != nil {
				return nil, err
			}
		}
	}

	if c.Registrar != nil {
		id, err := c.Registrar.RegisterArtifact(ctx, jobapi.ArtifactRegistration{
			JobID:     c.JobID,
			StepID:    c.StepID,
			Type:      jobapi.ArtifactTypeTempStorage,
			Namespace: c.Namespace,
			RefName:   refName,
		})
		if err != nil {
			return nil, fmt.Errorf("registering output tree %s: %w", refName, err)
		}
		result.ArtifactID = id
	}

	c.logger().Info("published temp storage outputs",
		"node", node,
		"ref", string(refName),
		"tree", treeHash.Short(),
		"tags", len(partition.Tags),
		"blocks_uploaded", len(uploadNames),
		"blocks_total", len(partition.Blocks),
		"bytes", humanize.IBytes(uint64(result.UploadedBytes)),
	)
	return result, nil
}
