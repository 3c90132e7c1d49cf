// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distribution

import "github.com/cockroachdb/errors"

// ErrLocationMapping marks errors raised when data ownership cannot be
// resolved to a set of nodes, for example because a partition was lost.
var ErrLocationMapping = errors.New("location mapping failed")

// NewLocationMappingError returns an error marked with ErrLocationMapping.
func NewLocationMappingError(format string, args ...interface{}) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrLocationMapping)
}

// IsLocationMappingError returns whether err was caused by a failure to
// resolve ownership.
func IsLocationMappingError(err error) bool {
	return errors.Is(err, ErrLocationMapping)
}
