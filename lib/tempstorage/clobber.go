// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tempstorage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultClobberExemptions are base-name patterns of files that every
// build rewrites, so changes to them are never reported.
var DefaultClobberExemptions = []string{"*.modules", "*.target", "*.version"}

// MaxReportedClobbers bounds the entries listed in a ClobberError.
const MaxReportedClobbers = 100

// ClobberedFile is one input the step changed.
type ClobberedFile struct {
	Path   string
	Reason string
}

// ClobberError reports inputs that were modified or deleted by the
// step. Files holds at most MaxReportedClobbers entries; Total is the
// full count.
type ClobberError struct {
	Files []ClobberedFile
	Total int
}

func (e *ClobberError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%d input file(s) from temp storage were modified by this step:", e.Total)
	for _, file := range e.Files {
		fmt.Fprintf(&builder, "\n  %s (%s)", file.Path, file.Reason)
	}
	if remaining := e.Total - len(e.Files); remaining > 0 {
		fmt.Fprintf(&builder, "\n  and %d more", remaining)
	}
	return builder.String()
}

// CheckForClobberedInputs compares every synced input against its
// recorded state. A file is clobbered when it was deleted, when its
// size changed, or when its modification time changed and its content
// digest no longer matches. Files whose base name matches one of the
// exemption patterns are skipped.
func (l *Ledger) CheckForClobberedInputs(exemptions []string) error {
	for _, pattern := range exemptions {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid clobber exemption %q: %w", pattern, err)
		}
	}

	clobbers := &ClobberError{}
	for _, path := range l.InputFiles() {
		if exempt(filepath.Base(path), exemptions) {
			continue
		}
		reason, err := l.clobberReason(path, l.inputs[path])
		if err != nil {
			return err
		}
		if reason == "" {
			continue
		}
		clobbers.Total++
		if len(clobbers.Files) < MaxReportedClobbers {
			clobbers.Files = append(clobbers.Files, ClobberedFile{Path: path, Reason: reason})
		}
	}
	if clobbers.Total > 0 {
		return clobbers
	}
	return nil
}

func (l *Ledger) clobberReason(path string, recorded File) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "deleted", nil
	}
	if err != nil {
		return "", fmt.Errorf("checking input %s: %w", path, err)
	}
	if info.Size() != recorded.Length {
		return fmt.Sprintf("size changed from %d to %d", recorded.Length, info.Size()), nil
	}
	if info.ModTime().UnixNano() == recorded.LastWriteTime {
		return "", nil
	}
	digest, err := digestFile(path)
	if err != nil {
		return "", err
	}
	if digest != recorded.Digest {
		return "contents changed", nil
	}
	return "", nil
}

func exempt(base string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
