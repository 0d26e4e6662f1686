// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage is the agent's boundary to the content-addressed
// blob store.
//
// Two primitives are exposed through the [Store] interface: immutable
// blobs addressed by their [blob.Hash], and mutable refs that map a
// (namespace, bucket, name) triple to a blob. Everything the agent
// exchanges (Merkle trees, manifests, compute tasks and results) is
// built on these two.
//
// Three implementations are provided:
//
//   - [MemoryStore]: an in-process map with per-hash read and write
//     counters, used by tests and dry runs.
//   - [DirectoryStore]: a sharded on-disk layout with atomic writes,
//     served by cmd/bureau-blob-service.
//   - [Client]: a Store that talks to a blob service over the CBOR
//     socket protocol in lib/service. [RegisterHandlers] exposes any
//     Store on a [service.SocketServer].
//
// No implementation retries. A transfer failure is returned to the
// caller wrapped with context.
package storage
