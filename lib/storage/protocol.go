// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "github.com/bureau-foundation/buildagent/lib/blob"

// Socket actions served by [RegisterHandlers].
const (
	ActionReadBlob  = "read-blob"
	ActionWriteBlob = "write-blob"
	ActionReadRef   = "read-ref"
	ActionWriteRef  = "write-ref"
)

// MaxMessageSize bounds a single request or response on the blob
// socket. Blobs travel inline as CBOR byte strings.
const MaxMessageSize = 512 * 1024 * 1024

type readBlobRequest struct {
	Namespace Namespace `cbor:"namespace"`
	Hash      blob.Hash `cbor:"hash"`
}

type writeBlobRequest struct {
	Namespace Namespace `cbor:"namespace"`
	Data      []byte    `cbor:"data"`
}

type readRefRequest struct {
	Namespace Namespace `cbor:"namespace"`
	Bucket    Bucket    `cbor:"bucket"`
	Name      RefName   `cbor:"name"`
}

type writeRefRequest struct {
	Namespace Namespace `cbor:"namespace"`
	Bucket    Bucket    `cbor:"bucket"`
	Name      RefName   `cbor:"name"`
	Data      []byte    `cbor:"data"`
}

// readResponse reports a missing blob or ref as found=false rather than
// as a service error, so the client can map it back to ErrNotFound.
type readResponse struct {
	Found bool   `cbor:"found"`
	Data  []byte `cbor:"data,omitempty"`
}

type writeResponse struct {
	Hash blob.Hash `cbor:"hash"`
}
