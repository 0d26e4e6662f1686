// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the agent's single CBOR configuration.
//
// Everything the agent persists or sends between processes is CBOR:
// directory trees, temp-storage manifests, compute tasks and results,
// ref records, and the socket protocol envelopes. Tree and manifest
// hashes are computed over these encodings, so the encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. The same logical value
// always produces the same bytes, and therefore the same hash.
//
// For buffers (blobs, manifest files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For streams (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that are only ever CBOR use `cbor` struct tags. Types that also
// appear in JSON (step descriptions, CLI output) use `json` tags, which
// fxamacker/cbor reads as a fallback. Never put both on one field.
package codec
