// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-agent-task runs one compute task by ref. The task is read
// from the compute bucket, its sandbox tree is materialized in a fresh
// directory under paths.sandboxes, and the result is written to the
// result ref. The task's exit code becomes this binary's exit code.
//
// Usage:
//
//	bureau-agent-task --config agent.yaml --task tasks/abc123 [--result tasks/abc123/result]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/compute"
	"github.com/bureau-foundation/buildagent/lib/config"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/service"
	"github.com/bureau-foundation/buildagent/lib/storage"
	"github.com/bureau-foundation/buildagent/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		taskRef    string
		resultRef  string
	)

	flagSet := pflag.NewFlagSet("bureau-agent-task", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "agent config file (default: $BUREAU_AGENT_CONFIG)")
	flagSet.StringVar(&taskRef, "task", "", "ref of the task to run, in the compute bucket (required)")
	flagSet.StringVar(&resultRef, "result", "", "ref to write the result to (default: <task>/result)")
	flagSet.Bool("version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		version.Print("bureau-agent-task")
		return nil
	}
	if taskRef == "" {
		return fmt.Errorf("--task is required")
	}
	if resultRef == "" {
		resultRef = taskRef + "/result"
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	timeout, err := cfg.TaskTimeout()
	if err != nil {
		return err
	}

	ref := compute.TaskRef{
		Namespace: storage.Namespace(cfg.Storage.Namespace),
		Bucket:    storage.Bucket(cfg.Compute.Bucket),
		TaskRef:   storage.RefName(taskRef),
		ResultRef: storage.RefName(resultRef),
	}
	if err := ref.TaskRef.Validate(); err != nil {
		return fmt.Errorf("--task: %w", err)
	}
	if err := ref.ResultRef.Validate(); err != nil {
		return fmt.Errorf("--result: %w", err)
	}

	logger := service.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, releaseStore, err := storage.Dial(cfg.Storage.SocketPath, cfg.Storage.CacheSizeMB)
	if err != nil {
		return err
	}
	defer releaseStore()

	runner := &compute.Runner{
		Store:          store,
		SandboxRoot:    cfg.Paths.Sandboxes,
		DefaultTimeout: timeout,
		Compress:       cfg.TempStorage.Compress,
		Clock:          clock.Real(),
		Logger:         logger,
	}

	result, err := runner.Run(ctx, ref)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &process.ExitError{Code: result.ExitCode}
	}
	return nil
}
