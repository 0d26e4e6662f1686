// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/codec"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// Task is a unit of sandboxed work.
type Task struct {
	// SandboxHash is the Merkle tree materialized as the sandbox.
	SandboxHash blob.Hash `cbor:"sandbox"`

	// WorkingDirectory is slash-separated and relative to the sandbox.
	// Empty means the sandbox root.
	WorkingDirectory string `cbor:"working_directory,omitempty"`

	// Executable is absolute, a bare name looked up on PATH, or a
	// slash-separated path relative to the sandbox.
	Executable string `cbor:"executable"`

	Arguments []string          `cbor:"arguments,omitempty"`
	EnvVars   map[string]string `cbor:"env,omitempty"`

	// OutputPaths are slash-separated and relative to the sandbox.
	// Directories contribute every file beneath them.
	OutputPaths []string `cbor:"output_paths,omitempty"`

	// Timeout, when positive and shorter than the runner's default,
	// bounds this task instead.
	Timeout time.Duration `cbor:"timeout,omitempty"`
}

// Validate checks the fields a runner relies on.
func (t *Task) Validate() error {
	var errs []error
	if t.SandboxHash.IsZero() {
		errs = append(errs, errors.New("sandbox hash is required"))
	}
	if t.Executable == "" {
		errs = append(errs, errors.New("executable is required"))
	}
	if t.WorkingDirectory != "" {
		if err := validateSandboxPath(t.WorkingDirectory); err != nil {
			errs = append(errs, fmt.Errorf("working directory: %w", err))
		}
	}
	for _, output := range t.OutputPaths {
		if err := validateSandboxPath(output); err != nil {
			errs = append(errs, fmt.Errorf("output path: %w", err))
		}
	}
	for name := range t.EnvVars {
		if name == "" || strings.ContainsAny(name, "=\x00") {
			errs = append(errs, fmt.Errorf("invalid environment variable name %q", name))
		}
	}
	if t.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %v", t.Timeout))
	}
	return errors.Join(errs...)
}

func validateSandboxPath(value string) error {
	cleaned := path.Clean(value)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%q is outside the sandbox", value)
	}
	return nil
}

// Result is the outcome of a task that ran to completion.
type Result struct {
	ExitCode   int       `cbor:"exit_code"`
	StdOutHash blob.Hash `cbor:"stdout"`
	StdErrHash blob.Hash `cbor:"stderr"`

	// OutputHash is the output tree, or zero when the task declared
	// no output paths.
	OutputHash blob.Hash `cbor:"output"`
}

// TaskRef locates a task and the ref its result is written to.
type TaskRef struct {
	Namespace storage.Namespace
	Bucket    storage.Bucket
	TaskRef   storage.RefName
	ResultRef storage.RefName
}

// EncodeTask returns the deterministic encoding of task.
func EncodeTask(task *Task) ([]byte, error) {
	data, err := codec.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encoding task: %w", err)
	}
	return data, nil
}

// DecodeTask parses and validates an encoded task.
func DecodeTask(data []byte) (*Task, error) {
	var task Task
	if err := codec.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decoding task: %w", err)
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	return &task, nil
}

// EncodeResult returns the deterministic encoding of result.
func EncodeResult(result *Result) ([]byte, error) {
	data, err := codec.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return data, nil
}

// DecodeResult parses an encoded result.
func DecodeResult(data []byte) (*Result, error) {
	var result Result
	if err := codec.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &result, nil
}

// PutTask validates task and stores it under name.
func PutTask(ctx context.Context, store storage.Store, namespace storage.Namespace, bucket storage.Bucket, name storage.RefName, task *Task) (blob.Hash, error) {
	if err := task.Validate(); err != nil {
		return blob.Hash{}, fmt.Errorf("invalid task: %w", err)
	}
	data, err := EncodeTask(task)
	if err != nil {
		return blob.Hash{}, err
	}
	return store.WriteRef(ctx, namespace, bucket, name, data)
}

// GetResult reads the result stored under name.
func GetResult(ctx context.Context, store storage.Store, namespace storage.Namespace, bucket storage.Bucket, name storage.RefName) (*Result, error) {
	data, err := store.ReadRef(ctx, namespace, bucket, name)
	if err != nil {
		return nil, fmt.Errorf("reading result %s: %w", name, err)
	}
	return DecodeResult(data)
}
