// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-dependent code run against a fake clock in
// tests.
//
// Components that race work against a deadline (the compute task
// runner) or stamp records with the current time (ref records) take a
// [Clock] instead of calling the time package. Production wiring uses
// [Real]; tests use [Fake] and drive time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go runner.Run(ctx, ref)      // registers a deadline timer
//	fake.WaitForTimers(1)        // wait until it has
//	fake.Advance(10 * time.Minute)
//
// WaitForTimers removes the race between a goroutine arming its timer
// and the test advancing past it.
package clock
