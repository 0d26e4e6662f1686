// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the agent binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time via -ldflags -X. When they are not injected (go install,
// test runs) the VCS stamp recorded by the Go toolchain fills in the
// commit and time where available.
//
//   - [Info] -- "0.1.0-dev (abc1234, 2026-02-10T...)" for --version
//   - [Print] -- "<binary> <Info>" on stdout
package version
