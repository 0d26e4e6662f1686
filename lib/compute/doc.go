// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compute runs sandboxed compute tasks.
//
// A [Task] is stored under a ref and names a Merkle tree (the sandbox
// contents), a command to run inside it, and the paths whose contents
// form the output. [Runner.Run] fetches the task, materializes the
// sandbox into a fresh directory, runs the command under a timeout,
// uploads stdout, stderr, and the output tree, and writes a [Result]
// under the result ref.
//
// [Execute] is the process primitive shared with the step executor.
// The command runs in its own process group. Completion (output fully
// drained and the process reaped) races a timer from an injected
// [clock.Clock]; if the timer wins, the whole group is killed and the
// call fails with [ErrTimeout]. A non-zero exit is not an error.
package compute
