// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package physicalplan holds the physical plan handed over by the
// optimizer, the fragments it is split into at exchange boundaries, and the
// placement of those fragments on cluster nodes.
package physicalplan

import (
	"math"

	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
)

// Node is a physical plan operator. The set of implementations is closed.
type Node interface {
	// Inputs returns the operator's children within its fragment.
	Inputs() []Node
	// RowType describes the rows the operator produces.
	RowType() rowenc.RowType

	withInputs(inputs []Node) Node
}

// Predicate is a compiled boolean row expression.
type Predicate func(rowenc.Row) bool

// Projection is a compiled row-to-row expression.
type Projection func(rowenc.Row) rowenc.Row

// BoundSupplier produces a bound row for an index spool probe. Columns left
// nil are unbounded.
type BoundSupplier func() rowenc.Row

// Scan reads the rows of a table held by the executing node.
type Scan struct {
	Table   distribution.TableID
	Columns rowenc.RowType
	// Filter, if set, drops rows that do not satisfy it.
	Filter Predicate
}

// Values produces a constant set of rows.
type Values struct {
	Rows []rowenc.Row
	Type rowenc.RowType
}

// Filter keeps the input rows that satisfy Pred.
type Filter struct {
	Input Node
	Pred  Predicate
}

// Project computes a new row from every input row.
type Project struct {
	Input Node
	Expr  Projection
	Type  rowenc.RowType
}

// Limit skips Offset rows and then passes at most Fetch rows. A negative
// Fetch means no limit.
type Limit struct {
	Input  Node
	Offset int
	Fetch  int
}

// JoinType is the kind of join.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
	RightJoin
	FullJoin
	SemiJoin
	AntiJoin
)

func (t JoinType) String() string {
	switch t {
	case LeftJoin:
		return "left"
	case RightJoin:
		return "right"
	case FullJoin:
		return "full"
	case SemiJoin:
		return "semi"
	case AntiJoin:
		return "anti"
	default:
		return "inner"
	}
}

// Join is a nested loop join. Cond is evaluated on the concatenation of a
// left and a right row.
type Join struct {
	Type        JoinType
	Left, Right Node
	Cond        Predicate
}

// IndexSpool materialises its input into an index ordered by Keys and
// returns the rows between the bounds produced by Lower and Upper.
type IndexSpool struct {
	Input        Node
	Keys         []int
	Lower, Upper BoundSupplier
}

// UnionAll concatenates the rows of its inputs.
type UnionAll struct {
	Sources []Node
}

// Exchange marks where the plan must be split: rows of Input are
// redistributed according to Distribution. Split replaces every Exchange by
// a Sender and Receiver pair.
type Exchange struct {
	Input        Node
	Distribution distribution.DistributionTrait
}

// Sender is the root of a remote fragment. It ships the fragment's rows to
// the fragment identified by TargetFragment.
type Sender struct {
	Input          Node
	ExchangeID     int64
	TargetFragment int64
	Distribution   distribution.DistributionTrait

	target      distribution.NodesMapping
	initialized bool
}

// Receiver consumes the rows shipped by the Sender of Source.
type Receiver struct {
	ExchangeID int64
	Source     *Fragment

	sourceMapping distribution.NodesMapping
	initialized   bool
}

func (n *Scan) Inputs() []Node       { return nil }
func (n *Values) Inputs() []Node     { return nil }
func (n *Filter) Inputs() []Node     { return []Node{n.Input} }
func (n *Project) Inputs() []Node    { return []Node{n.Input} }
func (n *Limit) Inputs() []Node      { return []Node{n.Input} }
func (n *Join) Inputs() []Node       { return []Node{n.Left, n.Right} }
func (n *IndexSpool) Inputs() []Node { return []Node{n.Input} }
func (n *UnionAll) Inputs() []Node   { return n.Sources }
func (n *Exchange) Inputs() []Node   { return []Node{n.Input} }
func (n *Sender) Inputs() []Node     { return []Node{n.Input} }
func (n *Receiver) Inputs() []Node   { return nil }

func (n *Scan) RowType() rowenc.RowType       { return n.Columns }
func (n *Values) RowType() rowenc.RowType     { return n.Type }
func (n *Filter) RowType() rowenc.RowType     { return n.Input.RowType() }
func (n *Project) RowType() rowenc.RowType    { return n.Type }
func (n *Limit) RowType() rowenc.RowType      { return n.Input.RowType() }
func (n *IndexSpool) RowType() rowenc.RowType { return n.Input.RowType() }
func (n *UnionAll) RowType() rowenc.RowType   { return n.Sources[0].RowType() }
func (n *Exchange) RowType() rowenc.RowType   { return n.Input.RowType() }
func (n *Sender) RowType() rowenc.RowType     { return n.Input.RowType() }
func (n *Receiver) RowType() rowenc.RowType   { return n.Source.Root.RowType() }

// RowType implements Node. Semi and anti joins produce left rows only.
func (n *Join) RowType() rowenc.RowType {
	if n.Type == SemiJoin || n.Type == AntiJoin {
		return n.Left.RowType()
	}
	return n.Left.RowType().Concat(n.Right.RowType())
}

func (n *Scan) withInputs([]Node) Node {
	c := *n
	return &c
}
func (n *Values) withInputs([]Node) Node {
	c := *n
	return &c
}
func (n *Filter) withInputs(in []Node) Node {
	c := *n
	c.Input = in[0]
	return &c
}
func (n *Project) withInputs(in []Node) Node {
	c := *n
	c.Input = in[0]
	return &c
}
func (n *Limit) withInputs(in []Node) Node {
	c := *n
	c.Input = in[0]
	return &c
}
func (n *Join) withInputs(in []Node) Node {
	c := *n
	c.Left, c.Right = in[0], in[1]
	return &c
}
func (n *IndexSpool) withInputs(in []Node) Node {
	c := *n
	c.Input = in[0]
	return &c
}
func (n *UnionAll) withInputs(in []Node) Node {
	return &UnionAll{Sources: append([]Node(nil), in...)}
}
func (n *Exchange) withInputs(in []Node) Node {
	c := *n
	c.Input = in[0]
	return &c
}
func (n *Sender) withInputs(in []Node) Node {
	c := *n
	c.Input = in[0]
	return &c
}
func (n *Receiver) withInputs([]Node) Node {
	c := *n
	return &c
}

// EstimateRowCount estimates the output cardinality for the cost model.
// Both the fetch and the offset are doubled so that the estimate stays on
// the conservative side when they come from parameters.
func (n *Limit) EstimateRowCount(inputRows float64) float64 {
	fetch, offset := float64(n.Fetch)*2, float64(n.Offset)*2
	switch {
	case n.Fetch >= 0 && n.Offset > 0:
		return math.Min(fetch, math.Abs(inputRows-offset))
	case n.Fetch >= 0:
		return math.Min(fetch, inputRows)
	case n.Offset > 0:
		// May go negative when the offset skips past the input.
		return inputRows - offset
	default:
		return inputRows
	}
}

// Init tells the sender which nodes run the fragment that consumes its rows.
func (n *Sender) Init(target distribution.NodesMapping) {
	n.target = target
	n.initialized = true
}

// Target returns the mapping of the consuming fragment.
func (n *Sender) Target() (distribution.NodesMapping, bool) {
	return n.target, n.initialized
}

// Init tells the receiver which nodes run the fragment it consumes.
func (n *Receiver) Init(source distribution.NodesMapping) {
	n.sourceMapping = source
	n.initialized = true
}

// SourceMapping returns the mapping of the producing fragment.
func (n *Receiver) SourceMapping() (distribution.NodesMapping, bool) {
	return n.sourceMapping, n.initialized
}

// Reset forgets the source mapping so that the plan can be placed again.
func (n *Receiver) Reset() {
	n.sourceMapping = distribution.NodesMapping{}
	n.initialized = false
}

// Reset forgets the target mapping.
func (n *Sender) Reset() {
	n.target = distribution.NodesMapping{}
	n.initialized = false
}
