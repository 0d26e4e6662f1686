// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/buildagent/lib/codec"
	"github.com/bureau-foundation/buildagent/lib/service"
)

// RegisterHandlers exposes store on server under the blob socket
// actions and raises the server's message limit to MaxMessageSize.
func RegisterHandlers(server *service.SocketServer, store Store) {
	server.SetMaxMessageSize(MaxMessageSize)

	server.Handle(ActionReadBlob, func(ctx context.Context, raw []byte) (any, error) {
		var request readBlobRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("decoding %s request: %w", ActionReadBlob, err)
		}
		data, err := store.ReadBlob(ctx, request.Namespace, request.Hash)
		return readResult(data, err)
	})

	server.Handle(ActionWriteBlob, func(ctx context.Context, raw []byte) (any, error) {
		var request writeBlobRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("decoding %s request: %w", ActionWriteBlob, err)
		}
		hash, err := store.WriteBlob(ctx, request.Namespace, request.Data)
		if err != nil {
			return nil, err
		}
		return writeResponse{Hash: hash}, nil
	})

	server.Handle(ActionReadRef, func(ctx context.Context, raw []byte) (any, error) {
		var request readRefRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("decoding %s request: %w", ActionReadRef, err)
		}
		data, err := store.ReadRef(ctx, request.Namespace, request.Bucket, request.Name)
		return readResult(data, err)
	})

	server.Handle(ActionWriteRef, func(ctx context.Context, raw []byte) (any, error) {
		var request writeRefRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("decoding %s request: %w", ActionWriteRef, err)
		}
		hash, err := store.WriteRef(ctx, request.Namespace, request.Bucket, request.Name, request.Data)
		if err != nil {
			return nil, err
		}
		return writeResponse{Hash: hash}, nil
	})
}

func readResult(data []byte, err error) (any, error) {
	if errors.Is(err, ErrNotFound) {
		return readResponse{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return readResponse{Found: true, Data: data}, nil
}
