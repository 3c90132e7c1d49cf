// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distsql

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowexec"
)

// TableResolver gives fragments access to the rows stored on a node.
type TableResolver interface {
	// Scan returns the locally stored rows of the given partitions of a
	// table. A nil partitions slice means every row the node holds.
	Scan(table distribution.TableID, partitions []int) (rowexec.RowIterator, error)
}

// fragmentBuilder turns the plan of a fragment into operators bound to the
// fragment's execution context.
type fragmentBuilder struct {
	ectx     *execinfra.ExecutionContext
	desc     physicalplan.Description
	tables   TableResolver
	exch     rowexec.ExchangeService
	topology distribution.Topology
	// onDone is handed to the sender of a remote fragment.
	onDone func(error)

	sender *rowexec.SenderNode
}

var _ physicalplan.Visitor[rowexec.Node] = &fragmentBuilder{}

func (b *fragmentBuilder) build() (rowexec.Node, error) {
	return physicalplan.Visit[rowexec.Node](b.desc.Root, b)
}

func (b *fragmentBuilder) inputs(ns ...physicalplan.Node) ([]rowexec.Node, error) {
	res := make([]rowexec.Node, len(ns))
	for i, n := range ns {
		var err error
		if res[i], err = physicalplan.Visit[rowexec.Node](n, b); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// VisitScan implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitScan(n *physicalplan.Scan) (rowexec.Node, error) {
	parts, partitioned := b.desc.Mapping.PartitionsOf(b.ectx.LocalNode)
	if partitioned && parts == nil {
		parts = []int{}
	} else if !partitioned {
		parts = nil
	}
	src := func() (rowexec.RowIterator, error) {
		return b.tables.Scan(n.Table, parts)
	}
	return rowexec.NewScanNode(b.ectx, n.Columns, src, n.Filter), nil
}

// VisitValues implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitValues(n *physicalplan.Values) (rowexec.Node, error) {
	return rowexec.NewScanNode(b.ectx, n.Type, rowexec.SliceSource(n.Rows), nil), nil
}

// VisitFilter implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitFilter(n *physicalplan.Filter) (rowexec.Node, error) {
	in, err := b.inputs(n.Input)
	if err != nil {
		return nil, err
	}
	res := rowexec.NewFilterNode(b.ectx, n.RowType(), n.Pred)
	res.Register(in...)
	return res, nil
}

// VisitProject implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitProject(n *physicalplan.Project) (rowexec.Node, error) {
	in, err := b.inputs(n.Input)
	if err != nil {
		return nil, err
	}
	res := rowexec.NewProjectNode(b.ectx, n.RowType(), n.Expr)
	res.Register(in...)
	return res, nil
}

// VisitLimit implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitLimit(n *physicalplan.Limit) (rowexec.Node, error) {
	in, err := b.inputs(n.Input)
	if err != nil {
		return nil, err
	}
	res := rowexec.NewLimitNode(b.ectx, n.RowType(), n.Offset, n.Fetch)
	res.Register(in...)
	return res, nil
}

// VisitJoin implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitJoin(n *physicalplan.Join) (rowexec.Node, error) {
	in, err := b.inputs(n.Left, n.Right)
	if err != nil {
		return nil, err
	}
	res := rowexec.NewJoinNode(b.ectx, n.Type, n.Left.RowType(), n.Right.RowType(), n.Cond)
	res.Register(in...)
	return res, nil
}

// VisitIndexSpool implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitIndexSpool(n *physicalplan.IndexSpool) (rowexec.Node, error) {
	in, err := b.inputs(n.Input)
	if err != nil {
		return nil, err
	}
	res := rowexec.NewIndexSpoolNode(b.ectx, n.RowType(), n.Keys, n.Lower, n.Upper)
	res.Register(in...)
	return res, nil
}

// VisitUnionAll implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitUnionAll(n *physicalplan.UnionAll) (rowexec.Node, error) {
	in, err := b.inputs(n.Sources...)
	if err != nil {
		return nil, err
	}
	res := rowexec.NewUnionAllNode(b.ectx, n.RowType())
	res.Register(in...)
	return res, nil
}

// VisitSender implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitSender(n *physicalplan.Sender) (rowexec.Node, error) {
	if b.sender != nil || b.desc.Root != physicalplan.Node(n) {
		return nil, errors.AssertionFailedf("sender of exchange %d is not the fragment root", n.ExchangeID)
	}
	dest, err := distribution.NewDestinationFunction(n.Distribution, b.desc.Target, b.topology)
	if err != nil {
		return nil, err
	}
	in, err := b.inputs(n.Input)
	if err != nil {
		return nil, err
	}
	b.sender = rowexec.NewSenderNode(b.ectx, n.RowType(), b.exch, n.ExchangeID, dest, b.onDone)
	b.sender.Register(in...)
	return b.sender, nil
}

// VisitReceiver implements physicalplan.Visitor.
func (b *fragmentBuilder) VisitReceiver(n *physicalplan.Receiver) (rowexec.Node, error) {
	src, ok := b.desc.Sources[n.ExchangeID]
	if !ok {
		return nil, errors.AssertionFailedf("no source mapping for exchange %d", n.ExchangeID)
	}
	return rowexec.NewReceiverNode(b.ectx, n.RowType(), b.exch, n.ExchangeID, src.NodeIDs()), nil
}
