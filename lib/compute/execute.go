// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/buildagent/lib/clock"
)

// ErrTimeout is wrapped by the error Execute returns when the timer
// fires before the process finishes.
var ErrTimeout = errors.New("timed out")

// Command describes a process to run.
type Command struct {
	// Path is the executable. A bare name is looked up on PATH.
	Path string
	Args []string
	Dir  string

	// Env is the full environment in KEY=VALUE form. Nil inherits the
	// agent's environment.
	Env []string

	// Stdout and Stderr, when set, receive a live copy of the output
	// in addition to the captured buffers.
	Stdout io.Writer
	Stderr io.Writer
}

// Execution is the outcome of a process that ran to completion.
type Execution struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// pipeDrainGrace bounds how long Wait keeps draining output after the
// command exits. Descendants that left the process group can hold the
// pipes open indefinitely.
const pipeDrainGrace = 2 * time.Second

// Execute runs command and waits for it to exit and for its output to
// be fully drained. A timeout of zero disables the timer. When the
// timer fires first, or ctx is cancelled, the process group is killed
// and reaped before Execute returns.
func Execute(ctx context.Context, clk clock.Clock, command Command, timeout time.Duration) (*Execution, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = command.Env
	cmd.Stdout = teeWriter(&stdout, command.Stdout)
	cmd.Stderr = teeWriter(&stderr, command.Stderr)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeDrainGrace

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := clk.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command.Path, err)
	}

	// Wait returns once the process has exited and the copy
	// goroutines have drained both pipes, or pipeDrainGrace after the
	// exit if something else still holds them.
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := clk.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-done:
		execution := &Execution{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Duration: clk.Now().Sub(started),
		}
		if err == nil || errors.Is(err, exec.ErrWaitDelay) {
			return execution, nil
		}
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			execution.ExitCode = exitError.ExitCode()
			return execution, nil
		}
		return nil, fmt.Errorf("waiting for %s: %w", command.Path, err)

	case <-expired:
		killProcessGroup(cmd)
		<-done
		return nil, fmt.Errorf("%s: %w after %v", command.Path, ErrTimeout, timeout)

	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return nil, ctx.Err()
	}
}

// killProcessGroup sends SIGKILL to every process in the command's
// group. A group that has already exited is not an error.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		cmd.Process.Kill()
	}
}

func teeWriter(capture *bytes.Buffer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}
