// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/storage"
	"github.com/bureau-foundation/buildagent/lib/testutil"
)

const testNamespace storage.Namespace = "merkle-test"

func newBuilder(store storage.Store) *Builder {
	return &Builder{Store: store, Namespace: testNamespace}
}

func newReader(store storage.Store) *Reader {
	return &Reader{Store: store, Namespace: testNamespace}
}

// sampleFiles spans three directory levels with names chosen so that
// ordinal path order and per-level name order disagree ("a-b/" sorts
// before "a/" as a path, after "a" as a name).
var sampleFiles = map[string]string{
	"README":             "top level\n",
	"a/one.txt":          "one\n",
	"a/b/two.txt":        "two\n",
	"a/b/c/three.txt":    "three\n",
	"a-b/four.txt":       "four\n",
	"z/deep/er/file.bin": "\x00\x01\x02",
}

func fileKeys(files map[string]string) []string {
	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	return keys
}

func TestBuildDeterministic(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first := t.TempDir()
	testutil.WriteFiles(t, first, sampleFiles)
	second := t.TempDir()
	testutil.WriteFiles(t, second, sampleFiles)

	paths := fileKeys(sampleFiles)
	_, firstHash, err := newBuilder(store).Build(ctx, first, paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Reverse order, absolute paths, different root.
	var reversed []string
	for i := len(paths) - 1; i >= 0; i-- {
		reversed = append(reversed, filepath.Join(second, paths[i]))
	}
	_, secondHash, err := newBuilder(store).Build(ctx, second, reversed)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if firstHash != secondHash {
		t.Errorf("same file set produced %s and %s", firstHash, secondHash)
	}

	_, importHash, err := newBuilder(store).ImportDirectory(ctx, first)
	if err != nil {
		t.Fatalf("ImportDirectory: %v", err)
	}
	if importHash != firstHash {
		t.Errorf("ImportDirectory hash %s differs from Build hash %s", importHash, firstHash)
	}

	testutil.WriteFiles(t, second, map[string]string{"a/b/two.txt": "changed\n"})
	_, changedHash, err := newBuilder(store).Build(ctx, second, paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if changedHash == firstHash {
		t.Error("changing one file did not change the root hash")
	}
}

func TestBuildTreeShape(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	root := t.TempDir()
	testutil.WriteFiles(t, root, sampleFiles)

	tree, hash, err := newBuilder(store).Build(ctx, root, fileKeys(sampleFiles))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var fileNames, directoryNames []string
	for _, file := range tree.Files {
		fileNames = append(fileNames, file.Name)
	}
	for _, directory := range tree.Directories {
		directoryNames = append(directoryNames, directory.Name)
	}
	if diff := cmp.Diff([]string{"README"}, fileNames); diff != "" {
		t.Errorf("root files (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "a-b", "z"}, directoryNames); diff != "" {
		t.Errorf("root directories (-want +got):\n%s", diff)
	}

	stored, err := newReader(store).ReadTree(ctx, hash)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if diff := cmp.Diff(tree, stored); diff != "" {
		t.Errorf("stored tree differs (-built +stored):\n%s", diff)
	}

	readme, ok := stored.File("README")
	if !ok {
		t.Fatal("README missing from root tree")
	}
	if readme.Length != int64(len(sampleFiles["README"])) {
		t.Errorf("README length = %d", readme.Length)
	}
	if _, ok := stored.Directory("a"); !ok {
		t.Error("directory a missing from root tree")
	}
}

func TestRoundTripWithEmptyDirectories(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	source := t.TempDir()
	testutil.WriteFiles(t, source, sampleFiles)
	for _, empty := range []string{"empty", "a/b/c/empty-leaf", "z/deep/hollow"} {
		if err := os.MkdirAll(filepath.Join(source, empty), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Chmod(filepath.Join(source, "a/b/two.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, hash, err := newBuilder(store).ImportDirectory(ctx, source)
	if err != nil {
		t.Fatalf("ImportDirectory: %v", err)
	}

	output := filepath.Join(t.TempDir(), "out")
	if err := newReader(store).MaterializeHash(ctx, hash, output); err != nil {
		t.Fatalf("MaterializeHash: %v", err)
	}

	if diff := cmp.Diff(sampleFiles, testutil.ReadFiles(t, output)); diff != "" {
		t.Errorf("materialized files (-want +got):\n%s", diff)
	}
	for _, empty := range []string{"empty", "a/b/c/empty-leaf", "z/deep/hollow"} {
		info, err := os.Stat(filepath.Join(output, empty))
		if err != nil || !info.IsDir() {
			t.Errorf("empty directory %s not materialized: %v", empty, err)
		}
	}
	info, err := os.Stat(filepath.Join(output, "a/b/two.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}

	// Re-importing the materialized copy reproduces the hash.
	_, again, err := newBuilder(store).ImportDirectory(ctx, output)
	if err != nil {
		t.Fatalf("ImportDirectory(output): %v", err)
	}
	if again != hash {
		t.Errorf("re-import hash %s, want %s", again, hash)
	}
}

func TestBuildDeduplicatesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	root := t.TempDir()
	shared := strings.Repeat("identical bytes ", 64)
	testutil.WriteFiles(t, root, map[string]string{
		"x/copy1":   shared,
		"x/copy2":   shared,
		"y/copy3":   shared,
		"y/z/copy4": shared,
		"unique":    "different",
	})

	tree, _, err := newBuilder(store).Build(ctx, root, []string{"x/copy1", "x/copy2", "y/copy3", "y/z/copy4", "unique"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := store.WriteCount(testNamespace, blob.Sum([]byte(shared))); got != 1 {
		t.Errorf("identical content written %d times, want 1", got)
	}
	unique, _ := tree.File("unique")
	if got := store.WriteCount(testNamespace, unique.Hash); got != 1 {
		t.Errorf("unique content written %d times, want 1", got)
	}
}

func TestBuildIdenticalSubtreesWrittenOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"left/leaf.txt":  "same",
		"right/leaf.txt": "same",
	})
	tree, _, err := newBuilder(store).Build(ctx, root, []string{"left/leaf.txt", "right/leaf.txt"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	left, _ := tree.Directory("left")
	right, _ := tree.Directory("right")
	if left.Hash != right.Hash {
		t.Fatalf("identical subtrees hashed differently: %s vs %s", left.Hash, right.Hash)
	}
	if got := store.WriteCount(testNamespace, left.Hash); got != 1 {
		t.Errorf("identical subtree written %d times, want 1", got)
	}
}

func TestBuildCompression(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	root := t.TempDir()
	compressible := strings.Repeat("all work and no play makes a dull build\n", 1000)
	testutil.WriteFiles(t, root, map[string]string{
		"log.txt":  compressible,
		"tiny.txt": "small",
	})

	builder := newBuilder(store)
	builder.Compress = true
	tree, hash, err := builder.Build(ctx, root, []string{"log.txt", "tiny.txt"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	logNode, _ := tree.File("log.txt")
	if !logNode.IsCompressed() {
		t.Errorf("log.txt stored with %s, want compression", logNode.Compression)
	}
	if logNode.Length != int64(len(compressible)) {
		t.Errorf("log.txt length = %d, want uncompressed %d", logNode.Length, len(compressible))
	}
	tinyNode, _ := tree.File("tiny.txt")
	if tinyNode.IsCompressed() {
		t.Errorf("tiny.txt compressed with %s, want none", tinyNode.Compression)
	}

	output := t.TempDir()
	if err := newReader(store).MaterializeHash(ctx, hash, output); err != nil {
		t.Fatalf("MaterializeHash: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(output, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte(compressible)) {
		t.Error("compressed file did not round trip")
	}
}

func TestBuildWithUploadLimit(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	root := t.TempDir()
	testutil.WriteFiles(t, root, sampleFiles)

	_, unlimited, err := newBuilder(store).Build(ctx, root, fileKeys(sampleFiles))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	limited := newBuilder(store)
	limited.MaxConcurrentUploads = 1
	_, capped, err := limited.Build(ctx, root, fileKeys(sampleFiles))
	if err != nil {
		t.Fatalf("Build with limit: %v", err)
	}
	if capped != unlimited {
		t.Errorf("upload limit changed the hash: %s vs %s", capped, unlimited)
	}
}

func TestBuildRejectsPathsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	for _, path := range []string{"../escape", "/etc/passwd", "."} {
		if _, _, err := newBuilder(storage.NewMemoryStore()).Build(context.Background(), root, []string{path}); err == nil {
			t.Errorf("Build(%q) succeeded, want error", path)
		}
	}
}

func TestBuildMissingFile(t *testing.T) {
	root := t.TempDir()
	_, _, err := newBuilder(storage.NewMemoryStore()).Build(context.Background(), root, []string{"absent"})
	if err == nil {
		t.Fatal("Build with missing file succeeded")
	}
}

func TestEmptyBuild(t *testing.T) {
	store := storage.NewMemoryStore()
	tree, hash, err := newBuilder(store).Build(context.Background(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tree.Files) != 0 || len(tree.Directories) != 0 {
		t.Errorf("empty build produced %+v", tree)
	}
	empty := &DirectoryTree{}
	want, err := empty.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if hash != want {
		t.Errorf("empty build hash %s, want %s", hash, want)
	}
}

func TestMaterializeMissingBlob(t *testing.T) {
	tree := &DirectoryTree{Files: []FileNode{{Name: "ghost", Hash: blob.Sum([]byte("ghost")), Length: 5}}}
	err := newReader(storage.NewMemoryStore()).Materialize(context.Background(), tree, t.TempDir())
	if err == nil {
		t.Fatal("Materialize with a missing blob succeeded")
	}
}

func TestMaterializeLengthMismatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	hash, err := store.WriteBlob(ctx, testNamespace, []byte("four"))
	if err != nil {
		t.Fatal(err)
	}
	tree := &DirectoryTree{Files: []FileNode{{Name: "short", Hash: hash, Length: 10}}}
	if err := newReader(store).Materialize(ctx, tree, t.TempDir()); err == nil {
		t.Fatal("Materialize with a wrong length succeeded")
	}
}

func TestMaterializeOverwritesReadOnlyFile(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	output := t.TempDir()

	for _, content := range []string{"first build\n", "second build\n"} {
		hash, err := store.WriteBlob(ctx, testNamespace, []byte(content))
		if err != nil {
			t.Fatal(err)
		}
		tree := &DirectoryTree{Files: []FileNode{{
			Name:   "tool",
			Hash:   hash,
			Length: int64(len(content)),
			Mode:   0o444,
		}}}
		if err := newReader(store).Materialize(ctx, tree, output); err != nil {
			t.Fatalf("Materialize(%q): %v", content, err)
		}
	}

	path := filepath.Join(output, "tool")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second build\n" {
		t.Errorf("content = %q, want the second build", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o444 {
		t.Errorf("mode = %v, want 0444", info.Mode().Perm())
	}
}

func TestEncodeIgnoresChildOrder(t *testing.T) {
	a := FileNode{Name: "a", Hash: blob.Sum([]byte("a")), Length: 1}
	b := FileNode{Name: "b", Hash: blob.Sum([]byte("b")), Length: 1}
	x := DirectoryNode{Name: "x", Hash: blob.Sum([]byte("x"))}
	y := DirectoryNode{Name: "y", Hash: blob.Sum([]byte("y"))}

	first := &DirectoryTree{Files: []FileNode{a, b}, Directories: []DirectoryNode{x, y}}
	second := &DirectoryTree{Files: []FileNode{b, a}, Directories: []DirectoryNode{y, x}}
	firstHash, err := first.Hash()
	if err != nil {
		t.Fatal(err)
	}
	secondHash, err := second.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if firstHash != secondHash {
		t.Error("child order changed the tree hash")
	}
	if second.Files[0].Name != "b" {
		t.Error("Encode reordered the receiver")
	}
}

func TestDecodeTreeRejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b"} {
		tree := DirectoryTree{Files: []FileNode{{Name: name}}}
		if _, err := tree.Encode(); err == nil {
			t.Errorf("Encode accepted file name %q", name)
		}
	}
	duplicate := DirectoryTree{
		Files:       []FileNode{{Name: "same"}},
		Directories: []DirectoryNode{{Name: "same"}},
	}
	if _, err := duplicate.Encode(); err == nil {
		t.Error("Encode accepted a name used by both a file and a directory")
	}
	if _, err := DecodeTree([]byte{0xff}); err == nil {
		t.Error("DecodeTree accepted garbage")
	}
}
