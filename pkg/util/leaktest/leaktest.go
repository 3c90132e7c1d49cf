// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package leaktest provides tools to detect leaked goroutines in tests.
// To use it, call "defer leaktest.AfterTest(t)()" at the beginning of each
// test that may use goroutines.
package leaktest

import (
	"testing"

	"go.uber.org/goleak"
)

// AfterTest snapshots the currently-running goroutines and returns a
// function to be run at the end of tests to see whether any goroutines
// leaked. Goroutines that were running before the test started are ignored.
func AfterTest(t testing.TB) func() {
	opts := []goleak.Option{goleak.IgnoreCurrent()}
	return func() {
		if t.Failed() {
			// Leaks are noise on top of an already failing test.
			return
		}
		goleak.VerifyNone(t, opts...)
	}
}
