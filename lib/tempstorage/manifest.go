// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"fmt"
	"os"
	"path/filepath"
)

// ManifestDir keeps local copies of manifests for one job, laid out as
// <root>/<node>/tag-<tag>.manifest and <root>/<node>/block*.manifest.
// The local copies let a later step on the same agent recognise blocks
// whose files are already on disk.
type ManifestDir struct {
	Root string
}

func (d ManifestDir) tagPath(node, tag string) string {
	return filepath.Join(d.Root, node, TagManifestName(tag))
}

func (d ManifestDir) blockPath(node, block string) string {
	return filepath.Join(d.Root, node, BlockManifestName(block))
}

// WriteTag stores a tag manifest.
func (d ManifestDir) WriteTag(node, tag string, manifest *TagManifest) error {
	data, err := manifest.Encode()
	if err != nil {
		return fmt.Errorf("encoding tag manifest %s/%s: %w", node, tag, err)
	}
	return writeFileAtomic(d.tagPath(node, tag), data)
}

// ReadTag loads a tag manifest. A missing manifest returns an error
// wrapping fs.ErrNotExist.
func (d ManifestDir) ReadTag(node, tag string) (*TagManifest, error) {
	data, err := os.ReadFile(d.tagPath(node, tag))
	if err != nil {
		return nil, err
	}
	return DecodeTagManifest(data)
}

// WriteBlock stores a block manifest.
func (d ManifestDir) WriteBlock(node, block string, manifest *BlockManifest) error {
	data, err := manifest.Encode()
	if err != nil {
		return fmt.Errorf("encoding block manifest %s: %w", BlockRef{node, block}, err)
	}
	return writeFileAtomic(d.blockPath(node, block), data)
}

// ReadBlock loads a block manifest. A missing manifest returns an
// error wrapping fs.ErrNotExist.
func (d ManifestDir) ReadBlock(node, block string) (*BlockManifest, error) {
	data, err := os.ReadFile(d.blockPath(node, block))
	if err != nil {
		return nil, err
	}
	return DecodeBlockManifest(data)
}

// HasBlock reports whether a local manifest exists for the block.
func (d ManifestDir) HasBlock(node, block string) bool {
	_, err := os.Stat(d.blockPath(node, block))
	return err == nil
}

func writeFileAtomic(path string, data []byte) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating manifest directory %s: %w", directory, err)
	}
	tmpFile, err := os.CreateTemp(directory, ".manifest-*")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
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
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing manifest %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming manifest to %s: %w", path, err)
	}
	success = true
	return nil
}
