// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package execinfra

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
)

// Config holds the tunables of the execution engine.
type Config struct {
	// InBufferSize is the prefetch window: the number of rows an operator
	// asks a source for at a time, and the size of the result buffer.
	InBufferSize int
	// ScanBatchSize bounds the rows a scan pushes in one task before it
	// yields the executor.
	ScanBatchSize int
	// IOBatchSize is the number of rows per exchange batch.
	IOBatchSize int
	// IOBatchCount is the number of batches a sender may have in flight to
	// one destination without an acknowledgement.
	IOBatchCount int
	// ExecutorStripes is the number of goroutines running fragments.
	ExecutorStripes int
	// CancelWorkers is the number of goroutines notifying remote nodes of
	// closed queries.
	CancelWorkers int
	// CancelRequestTimeout bounds one remote close notification.
	CancelRequestTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		InBufferSize:         512,
		ScanBatchSize:        512,
		IOBatchSize:          256,
		IOBatchCount:         4,
		ExecutorStripes:      4,
		CancelWorkers:        4,
		CancelRequestTimeout: 10 * time.Second,
	}
}

// RegisterFlags registers the configuration on a flag set, using the
// current values as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.InBufferSize, "in-buffer-size", c.InBufferSize,
		"rows requested from an input at a time")
	fs.IntVar(&c.ScanBatchSize, "scan-batch-size", c.ScanBatchSize,
		"rows a scan emits before yielding")
	fs.IntVar(&c.IOBatchSize, "io-batch-size", c.IOBatchSize,
		"rows per exchange batch")
	fs.IntVar(&c.IOBatchCount, "io-batch-count", c.IOBatchCount,
		"unacknowledged exchange batches per destination")
	fs.IntVar(&c.ExecutorStripes, "executor-stripes", c.ExecutorStripes,
		"goroutines executing query fragments on each node")
	fs.IntVar(&c.CancelWorkers, "cancel-workers", c.CancelWorkers,
		"goroutines sending query close notifications on each node")
	fs.DurationVar(&c.CancelRequestTimeout, "cancel-request-timeout", c.CancelRequestTimeout,
		"timeout of one query close notification")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	for _, v := range []struct {
		name string
		val  int
	}{
		{"in-buffer-size", c.InBufferSize},
		{"scan-batch-size", c.ScanBatchSize},
		{"io-batch-size", c.IOBatchSize},
		{"io-batch-count", c.IOBatchCount},
		{"executor-stripes", c.ExecutorStripes},
		{"cancel-workers", c.CancelWorkers},
	} {
		if v.val <= 0 {
			return errors.Newf("%s must be positive, got %d", v.name, v.val)
		}
	}
	if c.CancelRequestTimeout <= 0 {
		return errors.Newf("cancel-request-timeout must be positive, got %s", c.CancelRequestTimeout)
	}
	return nil
}
