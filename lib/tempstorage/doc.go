// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tempstorage moves intermediate build outputs between the
// nodes of a job graph.
//
// A node declares its outputs as named tags, each a set of workspace
// files. After the node runs, its fresh output files are partitioned
// into blocks: files in the node's default tag (the tag named after the
// node) form the default block, and files reachable only through other
// tags form one block per distinct tag combination. Every tag manifest
// lists its files and the blocks that hold them, so a consumer that
// asks for "node/tag" downloads exactly the blocks that tag needs and
// nothing else.
//
// Per-execution bookkeeping lives in a [Ledger], threaded explicitly
// through the phases of a step:
//
//	ledger, _ := tempstorage.NewLedger(workspace, node)
//	client.SyncInputs(ctx, ledger, inputs)
//	// ... run the step ...
//	ledger.CheckForClobberedInputs(exemptions)
//	partition, _ := ledger.PartitionOutputs(outputs)
//	client.Publish(ctx, ledger, partition, publish)
//
// A node's published outputs are one Merkle tree stored under the ref
// [RefName](prefix, node):
//
//	tag-<tag>.manifest      one per declared tag
//	block.manifest          the default block's manifest
//	block-<name>.manifest   other blocks' manifests
//	block/, block-<name>/   uploaded block contents, rooted at the workspace
//
// Manifests are deterministic CBOR.
package tempstorage
