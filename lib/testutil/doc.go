// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes and so cannot live under a deep
// t.TempDir().
//
// [WriteFiles] and [ReadFiles] lay out and read back small workspaces
// described as relative-path to content maps.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so tests never block forever on a channel.
//
// All helpers call t.Fatalf on failure.
package testutil
