// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package exchange moves rows and control messages between the nodes taking
// part in a query.
package exchange

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/google/uuid"
)

// Message is one of the messages below.
type Message interface {
	fmt.Stringer
	// Query returns the query the message belongs to.
	Query() uuid.UUID
}

// QueryStartRequest asks a node to run a fragment of a query.
type QueryStartRequest struct {
	QueryID         uuid.UUID
	OriginatingNode distribution.NodeID
	TopologyVersion distribution.TopologyVersion
	Fragment        physicalplan.Description
}

// QueryStartResponse reports that a remote fragment finished, successfully
// when Err is nil.
type QueryStartResponse struct {
	QueryID    uuid.UUID
	FragmentID int64
	Err        *errors.EncodedError
}

// QueryBatchMessage carries rows from a sender to a receiver. Batch ids
// start at 1 for every (sender node, receiver node) stream.
type QueryBatchMessage struct {
	QueryID    uuid.UUID
	ExchangeID int64
	BatchID    int
	Last       bool
	Rows       []rowenc.Row
}

// QueryBatchAcknowledgeMessage tells a sender that a batch was consumed,
// giving it credit for another batch.
type QueryBatchAcknowledgeMessage struct {
	QueryID    uuid.UUID
	ExchangeID int64
	BatchID    int
}

// InboxCloseMessage tells a sender that the receiver does not want more
// rows.
type InboxCloseMessage struct {
	QueryID    uuid.UUID
	ExchangeID int64
}

// QueryCloseMessage tells a node that a query was closed by its
// coordinator.
type QueryCloseMessage struct {
	QueryID uuid.UUID
}

func (m *QueryStartRequest) Query() uuid.UUID            { return m.QueryID }
func (m *QueryStartResponse) Query() uuid.UUID           { return m.QueryID }
func (m *QueryBatchMessage) Query() uuid.UUID            { return m.QueryID }
func (m *QueryBatchAcknowledgeMessage) Query() uuid.UUID { return m.QueryID }
func (m *InboxCloseMessage) Query() uuid.UUID            { return m.QueryID }
func (m *QueryCloseMessage) Query() uuid.UUID            { return m.QueryID }

func (m *QueryStartRequest) String() string {
	return fmt.Sprintf("start %s/%d", m.QueryID, m.Fragment.ID)
}

func (m *QueryStartResponse) String() string {
	if m.Err != nil {
		return fmt.Sprintf("response %s/%d: failed", m.QueryID, m.FragmentID)
	}
	return fmt.Sprintf("response %s/%d", m.QueryID, m.FragmentID)
}

func (m *QueryBatchMessage) String() string {
	return fmt.Sprintf("batch %s/%d#%d rows=%d last=%t",
		m.QueryID, m.ExchangeID, m.BatchID, len(m.Rows), m.Last)
}

func (m *QueryBatchAcknowledgeMessage) String() string {
	return fmt.Sprintf("ack %s/%d#%d", m.QueryID, m.ExchangeID, m.BatchID)
}

func (m *InboxCloseMessage) String() string {
	return fmt.Sprintf("inbox close %s/%d", m.QueryID, m.ExchangeID)
}

func (m *QueryCloseMessage) String() string {
	return fmt.Sprintf("close %s", m.QueryID)
}
