// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob defines blob identity and blob encoding for the agent's
// content-addressed exchange.
//
// A blob is an immutable byte sequence addressed by [Hash], the BLAKE3
// keyed hash of its bytes under a fixed blob-domain key. The hash is a
// pure function of the bytes: the same bytes written by any agent in
// any namespace always produce the same hash, which is what makes
// deduplication and cross-machine verification work.
//
// Stored file content may be compressed (see [CompressionTag]). The
// hash always covers the stored bytes; file-level identity over the
// uncompressed bytes uses [Digest], a separate domain so the two can
// never be confused.
package blob
