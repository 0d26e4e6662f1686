// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/codec"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// BlockSeparator joins the tag names that make up a non-default block
// name.
const BlockSeparator = "+"

// TagRef names one output tag of one node.
type TagRef struct {
	NodeName string
	TagName  string
}

func (r TagRef) String() string {
	return r.NodeName + "/" + r.TagName
}

// BlockRef names one block of one node. An empty BlockName is the
// node's default block.
type BlockRef struct {
	NodeName  string `cbor:"node"`
	BlockName string `cbor:"block"`
}

func (r BlockRef) String() string {
	if r.BlockName == "" {
		return r.NodeName + "/(default)"
	}
	return r.NodeName + "/" + r.BlockName
}

func compareBlockRefs(a, b BlockRef) int {
	return cmp.Or(strings.Compare(a.NodeName, b.NodeName), strings.Compare(a.BlockName, b.BlockName))
}

// File records one workspace file at a point in time.
type File struct {
	// RelativePath is slash-separated and relative to the workspace.
	RelativePath string `cbor:"path"`

	Length int64 `cbor:"length"`

	// LastWriteTime is the modification time in Unix nanoseconds.
	LastWriteTime int64 `cbor:"mtime"`

	// Digest is the content-domain hash of the file's bytes.
	Digest blob.Hash `cbor:"digest"`

	Mode uint32 `cbor:"mode"`
}

// BlockManifest lists the files of one block.
type BlockManifest struct {
	Files     []File `cbor:"files"`
	TotalSize int64  `cbor:"total_size"`
}

// TagManifest lists the files of one tag and the blocks that hold
// them.
type TagManifest struct {
	Files  []string   `cbor:"files"`
	Blocks []BlockRef `cbor:"blocks"`
}

// TagOutput is one declared output tag with the absolute paths of its
// files.
type TagOutput struct {
	Tag   string
	Files []string
}

// RefName returns the ref under which node publishes its outputs.
func RefName(prefix, nodeName string) storage.RefName {
	return storage.RefName(prefix + "/" + nodeName)
}

// TagManifestName is the file name of a tag manifest, both in the
// published tree and in a ManifestDir.
func TagManifestName(tag string) string {
	return "tag-" + tag + ".manifest"
}

// BlockManifestName is the file name of a block manifest.
func BlockManifestName(block string) string {
	if block == "" {
		return "block.manifest"
	}
	return "block-" + block + ".manifest"
}

// BlockDirectoryName is the directory holding a block's contents in
// the published tree.
func BlockDirectoryName(block string) string {
	if block == "" {
		return "block"
	}
	return "block-" + block
}

// validateTagName checks that tag can appear in manifest file names.
func validateTagName(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag name is empty")
	}
	if strings.ContainsAny(tag, "/\x00") || strings.Contains(tag, BlockSeparator) {
		return fmt.Errorf("tag name %q contains a reserved character", tag)
	}
	return nil
}

// Encode returns the deterministic encoding of the manifest with files
// sorted by path.
func (m *BlockManifest) Encode() ([]byte, error) {
	sorted := BlockManifest{Files: slices.Clone(m.Files), TotalSize: m.TotalSize}
	if sorted.Files == nil {
		sorted.Files = []File{}
	}
	slices.SortFunc(sorted.Files, func(a, b File) int { return strings.Compare(a.RelativePath, b.RelativePath) })
	return codec.Marshal(sorted)
}

// DecodeBlockManifest parses an encoded BlockManifest.
func DecodeBlockManifest(data []byte) (*BlockManifest, error) {
	var manifest BlockManifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decoding block manifest: %w", err)
	}
	for _, file := range manifest.Files {
		if err := validateRelativePath(file.RelativePath); err != nil {
			return nil, fmt.Errorf("block manifest: %w", err)
		}
	}
	return &manifest, nil
}

// Encode returns the deterministic encoding of the manifest with files
// and blocks sorted.
func (m *TagManifest) Encode() ([]byte, error) {
	sorted := TagManifest{
		Files:  append([]string{}, m.Files...),
		Blocks: append([]BlockRef{}, m.Blocks...),
	}
	slices.Sort(sorted.Files)
	slices.SortFunc(sorted.Blocks, compareBlockRefs)
	return codec.Marshal(sorted)
}

// DecodeTagManifest parses an encoded TagManifest.
func DecodeTagManifest(data []byte) (*TagManifest, error) {
	var manifest TagManifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decoding tag manifest: %w", err)
	}
	for _, path := range manifest.Files {
		if err := validateRelativePath(path); err != nil {
			return nil, fmt.Errorf("tag manifest: %w", err)
		}
	}
	return &manifest, nil
}

// validateRelativePath rejects paths that would land outside the
// workspace.
func validateRelativePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") {
		return fmt.Errorf("invalid workspace path %q", path)
	}
	for segment := range strings.SplitSeq(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("invalid workspace path %q", path)
		}
	}
	return nil
}
