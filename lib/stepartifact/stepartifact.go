// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stepartifact uploads the incidental files of a step (logs,
// test reports, crash dumps) as one tree and registers it with the
// job service. Unlike temp storage, nothing downstream consumes these
// files, so uploads run with a bounded number of concurrent transfers
// to keep them from competing with the build for bandwidth.
package stepartifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/jobapi"
	"github.com/bureau-foundation/buildagent/lib/merkle"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// DefaultMaxConcurrency caps concurrent file uploads when
// Uploader.MaxConcurrency is zero.
const DefaultMaxConcurrency = 5

// Uploader uploads step artifacts.
type Uploader struct {
	Store     storage.Store
	Namespace storage.Namespace
	Bucket    storage.Bucket

	// RefPrefix scopes artifact refs, typically to one job.
	RefPrefix string

	// Registrar, when set, is told about every uploaded tree.
	Registrar jobapi.Registrar
	JobID     string
	StepID    string

	MaxConcurrency int
	Compress       bool

	Logger *slog.Logger
}

// Result describes an uploaded artifact tree.
type Result struct {
	RefName    storage.RefName
	TreeHash   blob.Hash
	ArtifactID string
	Files      int
}

// RefName returns the ref under which node's artifacts are stored.
func RefName(prefix, nodeName string) storage.RefName {
	return storage.RefName(prefix + "/" + nodeName + "/artifacts")
}

// Upload resolves paths (files or directories, relative to workspace)
// and uploads every file found as one tree. Paths that do not exist
// are skipped, since a step that failed early may not have written
// its reports. When nothing is found Upload returns nil and writes no
// ref.
func (u *Uploader) Upload(ctx context.Context, workspace, nodeName string, paths []string) (*Result, error) {
	files, err := merkle.ResolveOutputPaths(workspace, paths)
	if err != nil {
		return nil, fmt.Errorf("resolving artifacts: %w", err)
	}
	if len(files) == 0 {
		u.logger().Info("no step artifacts to upload", "node", nodeName)
		return nil, nil
	}

	limit := u.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	builder := &merkle.Builder{
		Store:                u.Store,
		Namespace:            u.Namespace,
		Compress:             u.Compress,
		MaxConcurrentUploads: limit,
		Logger:               u.Logger,
	}
	tree, _, err := builder.Build(ctx, workspace, files)
	if err != nil {
		return nil, fmt.Errorf("uploading artifacts: %w", err)
	}
	encoded, err := tree.Encode()
	if err != nil {
		return nil, err
	}

	refName := RefName(u.RefPrefix, nodeName)
	treeHash, err := u.Store.WriteRef(ctx, u.Namespace, u.Bucket, refName, encoded)
	if err != nil {
		return nil, fmt.Errorf("writing artifact ref %s: %w", refName, err)
	}
	result := &Result{RefName: refName, TreeHash: treeHash, Files: len(files)}

	if u.Registrar != nil {
		id, err := u.Registrar.RegisterArtifact(ctx, jobapi.ArtifactRegistration{
			JobID:     u.JobID,
			StepID:    u.StepID,
			Type:      jobapi.ArtifactTypeStepArtifacts,
			Namespace: u.Namespace,
			RefName:   refName,
		})
		if err != nil {
			return nil, fmt.Errorf("registering artifacts %s: %w", refName, err)
		}
		result.ArtifactID = id
	}

	u.logger().Info("uploaded step artifacts",
		"node", nodeName,
		"ref", string(refName),
		"tree", treeHash.Short(),
		"files", len(files),
		"bytes", humanize.IBytes(uint64(totalSize(files))),
	)
	return result, nil
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// totalSize sums the sizes of files for logging. Files that vanished
// after upload count as empty.
func totalSize(files []string) int64 {
	var total int64
	for _, path := range files {
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	return total
}
