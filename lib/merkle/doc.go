// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package merkle converts between directories on disk and Merkle trees
// of blobs in a [storage.Store].
//
// A [DirectoryTree] lists the files and subdirectories of one
// directory. Each [FileNode] carries the hash of its stored (possibly
// compressed) bytes; each [DirectoryNode] carries the hash of the
// child's encoded DirectoryTree. The hash of a tree therefore covers
// every byte beneath it, and depends only on names, contents, modes,
// and compression, never on where the directory lived on disk.
//
// [Builder] uploads: it partitions a sorted path list into per-level
// groups, hashes and uploads files concurrently, and writes each
// directory's tree blob only after all of its children are known.
// [Reader] downloads: Materialize recreates a tree under an output
// directory, fetching every file and subtree concurrently.
//
// Trees are encoded with deterministic CBOR (lib/codec) after sorting
// both child lists by name, so identical file sets always produce the
// same root hash.
package merkle
