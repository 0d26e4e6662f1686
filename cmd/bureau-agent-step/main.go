// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-agent-step runs one job-graph node on a build agent.
//
// It reads a JSONC step file, fetches the temp storage inputs the step
// names into the workspace, runs the step's command with its output
// streamed to this process's stdout and stderr, checks that no input
// was rewritten, and publishes the declared outputs for later nodes.
// Incidental artifacts (logs, reports) are uploaded whether or not the
// command succeeds. A failing command's exit code becomes this
// binary's exit code.
//
// Usage:
//
//	bureau-agent-step --config agent.yaml --job-id job-42 --step steps/compile.jsonc
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/config"
	"github.com/bureau-foundation/buildagent/lib/jobapi"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/service"
	"github.com/bureau-foundation/buildagent/lib/stepdef"
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
		stepPath   string
		jobID      string
		stepID     string
	)

	flagSet := pflag.NewFlagSet("bureau-agent-step", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "agent config file (default: $BUREAU_AGENT_CONFIG)")
	flagSet.StringVar(&stepPath, "step", "", "JSONC step file to run (required)")
	flagSet.StringVar(&jobID, "job-id", "", "job this step belongs to; scopes output refs (required)")
	flagSet.StringVar(&stepID, "step-id", "", "step identifier reported with registered artifacts (default: node name)")
	flagSet.Bool("version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		version.Print("bureau-agent-step")
		return nil
	}
	if stepPath == "" {
		return fmt.Errorf("--step is required")
	}
	if jobID == "" {
		return fmt.Errorf("--job-id is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	step, err := stepdef.ReadFile(stepPath)
	if err != nil {
		return err
	}
	if step.Node == "" {
		step.Node = stepdef.NameFromPath(stepPath)
	}
	if issues := stepdef.Validate(step); len(issues) > 0 {
		return fmt.Errorf("%s: invalid step:\n  %s", stepPath, strings.Join(issues, "\n  "))
	}
	if stepID == "" {
		stepID = step.Node
	}

	logger := service.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, releaseStore, err := storage.Dial(cfg.Storage.SocketPath, cfg.Storage.CacheSizeMB)
	if err != nil {
		return err
	}
	defer releaseStore()

	executor := &stepExecutor{
		config: cfg,
		store:  store,
		jobID:  jobID,
		stepID: stepID,
		clock:  clock.Real(),
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	if cfg.Jobs.SocketPath != "" {
		executor.registrar = jobapi.NewClient(cfg.Jobs.SocketPath)
	}

	logger.Info("running step",
		"node", step.Node,
		"job_id", jobID,
		"step_id", stepID,
		"inputs", len(step.Inputs),
		"version", version.Info(),
	)
	_, err = executor.run(ctx, step)
	return err
}

// loadConfig loads, validates, and prepares the agent configuration.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}
