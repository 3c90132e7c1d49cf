// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package execinfra

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
)

// ErrTopology marks errors caused by a node leaving the cluster while it
// took part in a query.
var ErrTopology = errors.New("node left the cluster")

// ErrQueryCancelled marks errors caused by query cancellation.
var ErrQueryCancelled = errors.New("query cancelled")

// NewNodeLeftError returns the error that fails work depending on a node
// that left.
func NewNodeLeftError(node distribution.NodeID) error {
	return errors.Mark(errors.Newf("failed to execute query, node left [node=%s]", node), ErrTopology)
}

// NewQueryCancelledError returns the error reported to the client of a
// cancelled query.
func NewQueryCancelledError() error {
	return errors.Mark(errors.New("the query was cancelled while executing"), ErrQueryCancelled)
}
