// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/service"
)

// Client is a Store backed by a blob service socket.
type Client struct {
	service *service.ServiceClient
}

var _ Store = (*Client)(nil)

// NewClient returns a client for the blob service at socketPath.
func NewClient(socketPath string) *Client {
	serviceClient := service.NewServiceClient(socketPath)
	serviceClient.SetMaxResponseSize(MaxMessageSize)
	return &Client{service: serviceClient}
}

func (c *Client) ReadBlob(ctx context.Context, namespace Namespace, hash blob.Hash) ([]byte, error) {
	var response readResponse
	if err := c.service.Call(ctx, ActionReadBlob, map[string]any{
		"namespace": namespace,
		"hash":      hash,
	}, &response); err != nil {
		return nil, err
	}
	if !response.Found {
		return nil, fmt.Errorf("blob %s in namespace %s: %w", hash, namespace, ErrNotFound)
	}
	if actual := blob.Sum(response.Data); actual != hash {
		return nil, fmt.Errorf("blob %s: service returned content hashing to %s", hash, actual)
	}
	return response.Data, nil
}

func (c *Client) WriteBlob(ctx context.Context, namespace Namespace, data []byte) (blob.Hash, error) {
	var response writeResponse
	if err := c.service.Call(ctx, ActionWriteBlob, map[string]any{
		"namespace": namespace,
		"data":      data,
	}, &response); err != nil {
		return blob.Hash{}, err
	}
	if expected := blob.Sum(data); response.Hash != expected {
		return blob.Hash{}, fmt.Errorf("service stored blob as %s, expected %s", response.Hash, expected)
	}
	return response.Hash, nil
}

func (c *Client) ReadRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName) ([]byte, error) {
	var response readResponse
	if err := c.service.Call(ctx, ActionReadRef, map[string]any{
		"namespace": namespace,
		"bucket":    bucket,
		"name":      name,
	}, &response); err != nil {
		return nil, err
	}
	if !response.Found {
		return nil, fmt.Errorf("ref %s/%s/%s: %w", namespace, bucket, name, ErrNotFound)
	}
	return response.Data, nil
}

func (c *Client) WriteRef(ctx context.Context, namespace Namespace, bucket Bucket, name RefName, data []byte) (blob.Hash, error) {
	var response writeResponse
	if err := c.service.Call(ctx, ActionWriteRef, map[string]any{
		"namespace": namespace,
		"bucket":    bucket,
		"name":      name,
		"data":      data,
	}, &response); err != nil {
		return blob.Hash{}, err
	}
	return response.Hash, nil
}
