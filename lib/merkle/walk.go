// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ResolveOutputPaths expands declared output paths into the files they
// denote. Each declared path is absolute or relative to root. A
// directory contributes every regular file beneath it, a file
// contributes itself, and a path that does not exist contributes
// nothing. A path outside root is an error. The result is absolute,
// sorted, and free of duplicates.
func ResolveOutputPaths(root string, declared []string) ([]string, error) {
	root = filepath.Clean(root)
	var files []string
	for _, path := range declared {
		absolute := path
		if !filepath.IsAbs(absolute) {
			absolute = filepath.Join(root, path)
		}
		absolute = filepath.Clean(absolute)
		if !within(root, absolute) {
			return nil, fmt.Errorf("output path %q is outside %s", path, root)
		}

		info, err := os.Stat(absolute)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspecting output path %s: %w", absolute, err)
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() {
				files = append(files, absolute)
			}
			continue
		}

		err = filepath.WalkDir(absolute, func(walked string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			if entry.Type().IsRegular() {
				files = append(files, walked)
				return nil
			}
			if entry.Type()&fs.ModeSymlink != 0 {
				target, err := os.Stat(walked)
				if err == nil && target.Mode().IsRegular() {
					files = append(files, walked)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking output path %s: %w", absolute, err)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// within reports whether path is root or lies beneath it. Both must be
// clean.
func within(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
