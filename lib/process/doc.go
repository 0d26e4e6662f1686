// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for agent
// binaries. It covers the raw I/O that happens before the structured
// logger exists or after main() has given up on it:
//
//   - Fatal error reporting to stderr.
//   - Exiting with the status of a wrapped command, so a step that
//     runs a failing build tool fails with that tool's exit code.
package process
