// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/bureau-foundation/buildagent/lib/blob"
	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/merkle"
	"github.com/bureau-foundation/buildagent/lib/storage"
)

// DefaultTaskTimeout bounds a task when the runner sets no default.
const DefaultTaskTimeout = 10 * time.Minute

// Runner executes tasks stored in a blob store.
type Runner struct {
	Store storage.Store

	// SandboxRoot is the directory under which each task gets a fresh,
	// uniquely named sandbox.
	SandboxRoot string

	// DefaultTimeout bounds every task. Zero means DefaultTaskTimeout.
	DefaultTimeout time.Duration

	// Compress stores output files compressed when that pays off.
	Compress bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Run fetches the task named by ref, runs it in a fresh sandbox, and
// writes its result under ref.ResultRef. Nothing is retried. A task
// that exits non-zero still produces a result; a task that times out
// produces an error wrapping ErrTimeout and no result.
func (r *Runner) Run(ctx context.Context, ref TaskRef) (*Result, error) {
	logger := r.logger().With("task", string(ref.TaskRef))

	data, err := r.Store.ReadRef(ctx, ref.Namespace, ref.Bucket, ref.TaskRef)
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", ref.TaskRef, err)
	}
	task, err := DecodeTask(data)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", ref.TaskRef, err)
	}

	if err := os.MkdirAll(r.SandboxRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	sandbox := filepath.Join(r.SandboxRoot, uuid.NewString())
	defer func() {
		if err := os.RemoveAll(sandbox); err != nil {
			logger.Warn("failed to remove sandbox", "sandbox", sandbox, "error", err)
		}
	}()

	reader := &merkle.Reader{Store: r.Store, Namespace: ref.Namespace, Logger: r.Logger}
	if err := reader.MaterializeHash(ctx, task.SandboxHash, sandbox); err != nil {
		return nil, fmt.Errorf("materializing sandbox: %w", err)
	}

	command := r.command(sandbox, task)
	if err := os.MkdirAll(command.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	execution, err := Execute(ctx, r.clock(), command, r.timeoutFor(task))
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", ref.TaskRef, err)
	}

	result := &Result{ExitCode: execution.ExitCode}
	if result.StdOutHash, err = r.Store.WriteBlob(ctx, ref.Namespace, execution.Stdout); err != nil {
		return nil, fmt.Errorf("uploading stdout: %w", err)
	}
	if result.StdErrHash, err = r.Store.WriteBlob(ctx, ref.Namespace, execution.Stderr); err != nil {
		return nil, fmt.Errorf("uploading stderr: %w", err)
	}

	if len(task.OutputPaths) > 0 {
		declared := make([]string, len(task.OutputPaths))
		for index, output := range task.OutputPaths {
			declared[index] = filepath.FromSlash(output)
		}
		files, err := merkle.ResolveOutputPaths(sandbox, declared)
		if err != nil {
			return nil, err
		}
		builder := &merkle.Builder{Store: r.Store, Namespace: ref.Namespace, Compress: r.Compress, Logger: r.Logger}
		if _, result.OutputHash, err = builder.Build(ctx, sandbox, files); err != nil {
			return nil, fmt.Errorf("uploading outputs: %w", err)
		}
	}

	encoded, err := EncodeResult(result)
	if err != nil {
		return nil, err
	}
	if _, err := r.Store.WriteRef(ctx, ref.Namespace, ref.Bucket, ref.ResultRef, encoded); err != nil {
		return nil, fmt.Errorf("writing result %s: %w", ref.ResultRef, err)
	}

	logger.Info("task complete",
		"exit_code", result.ExitCode,
		"duration", execution.Duration,
		"stdout", humanize.IBytes(uint64(len(execution.Stdout))),
		"stderr", humanize.IBytes(uint64(len(execution.Stderr))),
		"output", outputLabel(result.OutputHash),
	)
	return result, nil
}

func (r *Runner) timeoutFor(task *Task) time.Duration {
	timeout := r.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	if task.Timeout > 0 && task.Timeout < timeout {
		timeout = task.Timeout
	}
	return timeout
}

func (r *Runner) command(sandbox string, task *Task) Command {
	executable := task.Executable
	if !filepath.IsAbs(executable) && strings.Contains(executable, "/") {
		executable = filepath.Join(sandbox, filepath.FromSlash(path.Clean(executable)))
	}

	environment := os.Environ()
	for _, name := range slices.Sorted(maps.Keys(task.EnvVars)) {
		environment = append(environment, name+"="+task.EnvVars[name])
	}

	return Command{
		Path: executable,
		Args: task.Arguments,
		Dir:  filepath.Join(sandbox, filepath.FromSlash(task.WorkingDirectory)),
		Env:  environment,
	}
}

func (r *Runner) clock() clock.Clock {
	if r.Clock != nil {
		return r.Clock
	}
	return clock.Real()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func outputLabel(hash blob.Hash) string {
	if hash.IsZero() {
		return "none"
	}
	return hash.Short()
}
