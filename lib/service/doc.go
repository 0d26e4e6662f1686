// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the agent's process-to-process transport: a CBOR
// request-response protocol over Unix sockets.
//
// Each connection carries exactly one exchange. The client writes a
// CBOR map containing an "action" field plus action-specific fields;
// the server routes on the action, runs the registered [ActionFunc],
// and writes back a [Response] envelope ({ok, error, data}). CBOR is
// self-delimiting, so no framing is needed.
//
// The blob store service (lib/storage) and the job API client
// (lib/jobapi) are both built on this package. Retries are the
// caller's business; the transport reports every failure as-is.
package service
