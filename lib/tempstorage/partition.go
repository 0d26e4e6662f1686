// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// Partition is the assignment of a node's outputs to blocks.
type Partition struct {
	NodeName string

	// Tags holds one manifest per declared output tag.
	Tags map[string]*TagManifest

	// Blocks holds one manifest per block of this node that received
	// at least one fresh file, keyed by block name.
	Blocks map[string]*BlockManifest
}

// TagNames returns the declared tags in sorted order.
func (p *Partition) TagNames() []string {
	return slices.Sorted(maps.Keys(p.Tags))
}

// BlockNames returns the block names in sorted order. The default
// block, if present, sorts first.
func (p *Partition) BlockNames() []string {
	return slices.Sorted(maps.Keys(p.Blocks))
}

// PartitionOutputs assigns every declared output file to a block and
// builds the tag and block manifests.
//
// A file already owned by a block (an input re-declared as an output,
// or a file listed earlier) stays with that block. A fresh file listed
// under the default tag goes to the default block. A fresh file listed
// only under other tags goes to the block named by those tags, sorted
// and joined with BlockSeparator. Each file therefore lands in exactly
// one block, and a consumer of any tag needs only the blocks its files
// live in.
func (l *Ledger) PartitionOutputs(declaredOutputs []TagOutput) (*Partition, error) {
	outputs := make([]TagOutput, len(declaredOutputs))
	for index, output := range declaredOutputs {
		outputs[index].Tag = output.Tag
		for _, path := range output.Files {
			if !filepath.IsAbs(path) {
				path = l.absolute(path)
			}
			outputs[index].Files = append(outputs[index].Files, filepath.Clean(path))
		}
	}

	fileTags := make(map[string][]string)
	var order []string
	declared := make(map[string]struct{}, len(outputs))

	for _, output := range outputs {
		if err := validateTagName(output.Tag); err != nil {
			return nil, err
		}
		if _, duplicate := declared[output.Tag]; duplicate {
			return nil, fmt.Errorf("output tag %q declared twice", output.Tag)
		}
		declared[output.Tag] = struct{}{}

		for _, path := range output.Files {
			if _, err := l.relative(path); err != nil {
				return nil, fmt.Errorf("tag %s: %w", output.Tag, err)
			}
			if _, seen := fileTags[path]; !seen {
				order = append(order, path)
			}
			if !slices.Contains(fileTags[path], output.Tag) {
				fileTags[path] = append(fileTags[path], output.Tag)
			}
		}
	}

	partition := &Partition{
		NodeName: l.nodeName,
		Tags:     make(map[string]*TagManifest, len(outputs)),
		Blocks:   make(map[string]*BlockManifest),
	}

	for _, path := range order {
		if _, owned := l.fileBlocks[path]; owned {
			continue
		}
		block := l.blockFor(fileTags[path])
		l.fileBlocks[path] = BlockRef{NodeName: l.nodeName, BlockName: block}
		l.blockFiles[block] = append(l.blockFiles[block], path)
	}

	for block, paths := range l.blockFiles {
		manifest := &BlockManifest{Files: make([]File, 0, len(paths))}
		for _, path := range paths {
			relative, err := l.relative(path)
			if err != nil {
				return nil, err
			}
			record, err := inspectFile(path, relative)
			if err != nil {
				return nil, fmt.Errorf("block %s: %w", BlockRef{l.nodeName, block}, err)
			}
			manifest.Files = append(manifest.Files, record)
			manifest.TotalSize += record.Length
		}
		slices.SortFunc(manifest.Files, func(a, b File) int { return strings.Compare(a.RelativePath, b.RelativePath) })
		partition.Blocks[block] = manifest
	}

	for _, output := range outputs {
		manifest := &TagManifest{Files: []string{}, Blocks: []BlockRef{}}
		blocks := make(map[BlockRef]struct{})
		for _, path := range output.Files {
			l.addTagFile(output.Tag, path)
			relative, _ := l.relative(path)
			manifest.Files = append(manifest.Files, relative)
			blocks[l.fileBlocks[path]] = struct{}{}
		}
		for ref := range blocks {
			manifest.Blocks = append(manifest.Blocks, ref)
		}
		slices.Sort(manifest.Files)
		manifest.Files = slices.Compact(manifest.Files)
		slices.SortFunc(manifest.Blocks, compareBlockRefs)
		partition.Tags[output.Tag] = manifest
	}

	return partition, nil
}

// blockFor names the block for a fresh file listed under tags.
func (l *Ledger) blockFor(tags []string) string {
	if slices.Contains(tags, l.DefaultTag()) {
		return ""
	}
	sorted := slices.Clone(tags)
	slices.Sort(sorted)
	return strings.Join(sorted, BlockSeparator)
}
