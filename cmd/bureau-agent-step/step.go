// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/compute"
	"github.com/bureau-foundation/buildagent/lib/config"
	"github.com/bureau-foundation/buildagent/lib/jobapi"
	"github.com/bureau-foundation/buildagent/lib/merkle"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/stepartifact"
	"github.com/bureau-foundation/buildagent/lib/stepdef"
	"github.com/bureau-foundation/buildagent/lib/storage"
	"github.com/bureau-foundation/buildagent/lib/tempstorage"
)

// stepExecutor runs one job-graph node: fetch inputs, run the command,
// verify inputs were not clobbered, publish outputs, upload artifacts.
type stepExecutor struct {
	config    *config.Config
	store     storage.Store
	registrar jobapi.Registrar
	jobID     string
	stepID    string
	clock     clock.Clock
	logger    *slog.Logger

	// stdout and stderr receive the command's live output.
	stdout io.Writer
	stderr io.Writer
}

// stepOutcome summarizes a completed step.
type stepOutcome struct {
	ExitCode  int
	Published *tempstorage.PublishResult
	Artifacts *stepartifact.Result
}

// run executes step. A command that exits non-zero still gets its
// artifacts uploaded, then fails with a *process.ExitError carrying
// its exit code. Outputs are published only after a clean exit.
func (e *stepExecutor) run(ctx context.Context, step *stepdef.Step) (*stepOutcome, error) {
	workspace := e.config.Paths.Workspace
	logger := e.logger.With("node", step.Node, "job_id", e.jobID)

	ledger, err := tempstorage.NewLedger(workspace, step.Node)
	if err != nil {
		return nil, err
	}

	client := &tempstorage.Client{
		Store:     e.store,
		Namespace: storage.Namespace(e.config.Storage.Namespace),
		Bucket:    storage.Bucket(e.config.TempStorage.Bucket),
		RefPrefix: e.jobID,
		Manifests: tempstorage.ManifestDir{Root: filepath.Join(e.config.Paths.Manifests, e.jobID)},
		Registrar: e.registrar,
		JobID:     e.jobID,
		StepID:    e.stepID,
		Compress:  e.config.TempStorage.Compress,
		Logger:    logger,
	}

	if err := client.SyncInputs(ctx, ledger, step.Inputs); err != nil {
		return nil, fmt.Errorf("fetching inputs: %w", err)
	}

	execution, runErr := compute.Execute(ctx, e.clock, e.command(step), step.TimeoutDuration())

	outcome := &stepOutcome{}
	if len(step.Artifacts) > 0 {
		// Reports from a failed or timed-out command are the ones
		// most worth keeping, so upload before judging the result.
		artifacts, err := e.uploader(logger).Upload(ctx, workspace, step.Node, step.Artifacts)
		if err != nil {
			if runErr == nil {
				return nil, err
			}
			logger.Warn("uploading step artifacts failed", "error", err)
		}
		outcome.Artifacts = artifacts
	}

	if runErr != nil {
		if errors.Is(runErr, compute.ErrTimeout) {
			return outcome, fmt.Errorf("step %s: %w", step.Node, runErr)
		}
		return outcome, fmt.Errorf("running step %s: %w", step.Node, runErr)
	}
	outcome.ExitCode = execution.ExitCode
	logger.Info("step command finished",
		"exit_code", execution.ExitCode,
		"duration", execution.Duration.String(),
	)
	if execution.ExitCode != 0 {
		return outcome, &process.ExitError{Code: execution.ExitCode}
	}

	if err := ledger.CheckForClobberedInputs(e.config.TempStorage.ClobberExemptions); err != nil {
		return outcome, err
	}

	outputs, err := resolveOutputs(workspace, step)
	if err != nil {
		return outcome, err
	}
	if len(outputs) == 0 {
		logger.Info("step declares no outputs")
		return outcome, nil
	}
	partition, err := ledger.PartitionOutputs(outputs)
	if err != nil {
		return outcome, fmt.Errorf("partitioning outputs: %w", err)
	}
	published, err := client.Publish(ctx, ledger, partition, step.Publish)
	if err != nil {
		return outcome, fmt.Errorf("publishing outputs: %w", err)
	}
	outcome.Published = published
	return outcome, nil
}

// command builds the step's process. Executables containing a slash
// resolve against the workspace; bare names are looked up on PATH.
func (e *stepExecutor) command(step *stepdef.Step) compute.Command {
	workspace := e.config.Paths.Workspace
	executable := step.Command[0]
	if !filepath.IsAbs(executable) && strings.Contains(executable, "/") {
		executable = filepath.Join(workspace, filepath.Clean(executable))
	}
	return compute.Command{
		Path:   executable,
		Args:   step.Command[1:],
		Dir:    filepath.Join(workspace, step.WorkingDirectory),
		Env:    append(os.Environ(), step.Environment()...),
		Stdout: e.stdout,
		Stderr: e.stderr,
	}
}

func (e *stepExecutor) uploader(logger *slog.Logger) *stepartifact.Uploader {
	return &stepartifact.Uploader{
		Store:          e.store,
		Namespace:      storage.Namespace(e.config.Storage.Namespace),
		Bucket:         storage.Bucket(e.config.Uploads.Bucket),
		RefPrefix:      e.jobID,
		Registrar:      e.registrar,
		JobID:          e.jobID,
		StepID:         e.stepID,
		MaxConcurrency: e.config.Uploads.MaxConcurrency,
		Compress:       e.config.TempStorage.Compress,
		Logger:         logger,
	}
}

// resolveOutputs expands each declared tag's paths to the files they
// name, in tag order.
func resolveOutputs(workspace string, step *stepdef.Step) ([]tempstorage.TagOutput, error) {
	tagPaths := step.TagPaths()
	tags := make([]string, 0, len(tagPaths))
	for tag := range tagPaths {
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	outputs := make([]tempstorage.TagOutput, 0, len(tags))
	for _, tag := range tags {
		files, err := merkle.ResolveOutputPaths(workspace, tagPaths[tag])
		if err != nil {
			return nil, fmt.Errorf("resolving outputs of tag %s: %w", tag, err)
		}
		outputs = append(outputs, tempstorage.TagOutput{Tag: tag, Files: files})
	}
	return outputs, nil
}
