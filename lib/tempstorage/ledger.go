// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/blob"
)

// Ledger is the bookkeeping for one execution of one node. It is not
// safe for concurrent use; phases run one after another.
type Ledger struct {
	workspace string
	nodeName  string

	// tagFiles maps input tags ("node/tag") and this node's output tags
	// to the absolute paths of their files.
	tagFiles map[string]map[string]struct{}

	// fileBlocks maps an absolute path to the block that owns it.
	fileBlocks map[string]BlockRef

	// blockFiles maps this node's output block names to their files.
	blockFiles map[string][]string

	// inputs holds the post-download record of every synced input
	// file, for clobber detection.
	inputs map[string]File
}

// NewLedger starts the ledger for node running in workspace.
func NewLedger(workspace, nodeName string) (*Ledger, error) {
	if err := validateTagName(nodeName); err != nil {
		return nil, fmt.Errorf("invalid node name: %w", err)
	}
	absolute, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace %s: %w", workspace, err)
	}
	return &Ledger{
		workspace:  absolute,
		nodeName:   nodeName,
		tagFiles:   make(map[string]map[string]struct{}),
		fileBlocks: make(map[string]BlockRef),
		blockFiles: make(map[string][]string),
		inputs:     make(map[string]File),
	}, nil
}

// Workspace returns the absolute workspace directory.
func (l *Ledger) Workspace() string { return l.workspace }

// NodeName returns the node this ledger belongs to.
func (l *Ledger) NodeName() string { return l.nodeName }

// DefaultTag is the tag named after the node.
func (l *Ledger) DefaultTag() string { return l.nodeName }

// TagFiles returns the sorted absolute files of a tag, or nil if the
// tag is unknown. Input tags are keyed "node/tag".
func (l *Ledger) TagFiles(tag string) []string {
	set, ok := l.tagFiles[tag]
	if !ok {
		return nil
	}
	files := make([]string, 0, len(set))
	for file := range set {
		files = append(files, file)
	}
	slices.Sort(files)
	return files
}

// OwningBlock returns the block that owns an absolute path.
func (l *Ledger) OwningBlock(path string) (BlockRef, bool) {
	ref, ok := l.fileBlocks[path]
	return ref, ok
}

// InputFiles returns the sorted absolute paths of every synced input.
func (l *Ledger) InputFiles() []string {
	files := make([]string, 0, len(l.inputs))
	for file := range l.inputs {
		files = append(files, file)
	}
	slices.Sort(files)
	return files
}

// absolute maps a workspace-relative slash path to an absolute path.
func (l *Ledger) absolute(relative string) string {
	return filepath.Join(l.workspace, filepath.FromSlash(relative))
}

// relative maps an absolute path beneath the workspace to a
// workspace-relative slash path.
func (l *Ledger) relative(path string) (string, error) {
	rel, err := filepath.Rel(l.workspace, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output file %s is not inside workspace %s", path, l.workspace)
	}
	return filepath.ToSlash(rel), nil
}

func (l *Ledger) addTagFile(tag, path string) {
	set, ok := l.tagFiles[tag]
	if !ok {
		set = make(map[string]struct{})
		l.tagFiles[tag] = set
	}
	set[path] = struct{}{}
}

// inspectFile stats and hashes path, returning its record under the
// given relative name.
func inspectFile(path, relative string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return File{}, fmt.Errorf("%s is not a regular file", path)
	}
	digest, err := digestFile(path)
	if err != nil {
		return File{}, err
	}
	return File{
		RelativePath:  relative,
		Length:        info.Size(),
		LastWriteTime: info.ModTime().UnixNano(),
		Digest:        digest,
		Mode:          uint32(info.Mode().Perm()),
	}, nil
}

func digestFile(path string) (blob.Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return blob.Hash{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()
	digest, _, err := blob.DigestReader(file)
	if err != nil {
		return blob.Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}
