// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/buildagent/lib/testutil"
)

func TestResolveOutputPaths(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"out/bin/tool":      "elf",
		"out/lib/libx.a":    "ar",
		"out/lib/sub/liby":  "ar",
		"report.xml":        "<xml/>",
		"unrelated/ignored": "x",
	})

	tests := []struct {
		name     string
		declared []string
		want     []string
	}{
		{
			name:     "directory expands recursively",
			declared: []string{"out/lib"},
			want:     []string{"out/lib/libx.a", "out/lib/sub/liby"},
		},
		{
			name:     "file is itself",
			declared: []string{"report.xml"},
			want:     []string{"report.xml"},
		},
		{
			name:     "missing paths are skipped",
			declared: []string{"nope", "out/bin/tool", "out/missing/"},
			want:     []string{"out/bin/tool"},
		},
		{
			name:     "overlap is deduplicated",
			declared: []string{"out", "out/bin/tool", filepath.Join(root, "out/bin")},
			want:     []string{"out/bin/tool", "out/lib/libx.a", "out/lib/sub/liby"},
		},
		{
			name:     "nothing declared",
			declared: nil,
			want:     nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ResolveOutputPaths(root, test.declared)
			if err != nil {
				t.Fatalf("ResolveOutputPaths: %v", err)
			}
			var want []string
			for _, rel := range test.want {
				want = append(want, filepath.Join(root, rel))
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("resolved paths (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveOutputPathsRejectsEscape(t *testing.T) {
	root := t.TempDir()
	for _, declared := range []string{"../sibling", "/etc"} {
		if _, err := ResolveOutputPaths(root, []string{declared}); err == nil {
			t.Errorf("ResolveOutputPaths(%q) succeeded, want error", declared)
		}
	}
}
