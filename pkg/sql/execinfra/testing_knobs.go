// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package execinfra

import (
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/google/uuid"
)

// TestingKnobs are the testing knobs of the execution engine.
type TestingKnobs struct {
	// BeforeCloseRemotes is called by a coordinator that finished a query
	// right before it notifies the remote participants.
	BeforeCloseRemotes func(queryID uuid.UUID, nodes []distribution.NodeID)

	// OnRemoteFragmentStart is called when a node starts a fragment on
	// behalf of another node. Returning an error fails the fragment.
	OnRemoteFragmentStart func(queryID uuid.UUID, fragmentID int64) error
}
