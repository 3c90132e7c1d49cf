// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/ring"
)

// JoinNode is a nested loop join with a materialised right side. Left rows
// are buffered one prefetch window at a time and joined against the whole
// right side once the right source ended.
//
// Left and full joins emit a left row padded with nulls when it matched no
// right row. Right and full joins remember the matched right rows and emit
// the others padded with nulls on the left once the left source ended. Semi
// and anti joins emit left rows only: a semi join on the first match, an
// anti join when nothing matched.
type JoinNode struct {
	nodeBase

	typ        physicalplan.JoinType
	cond       func(rowenc.Row) bool
	leftWidth  int
	rightWidth int

	requested    int
	waitingLeft  int
	waitingRight int
	inLoop       bool

	right     []rowenc.Row
	leftInBuf ring.Buffer[rowenc.Row]
	left      rowenc.Row
	rightIdx  int
	matched   bool

	// rightMatched is allocated once the right side is materialised, for
	// right and full joins only.
	rightMatched   []bool
	unmatchedRight int
}

var _ Node = &JoinNode{}

// NewJoinNode creates a join of the given type. The condition is evaluated
// on the concatenation of a left and a right row; a nil condition matches
// every pair.
func NewJoinNode(
	ectx *execinfra.ExecutionContext,
	typ physicalplan.JoinType,
	leftType, rightType rowenc.RowType,
	cond func(rowenc.Row) bool,
) *JoinNode {
	rowType := leftType
	if typ != physicalplan.SemiJoin && typ != physicalplan.AntiJoin {
		rowType = leftType.Concat(rightType)
	}
	return &JoinNode{
		nodeBase:   nodeBase{ectx: ectx, rowType: rowType},
		typ:        typ,
		cond:       cond,
		leftWidth:  leftType.Width(),
		rightWidth: rightType.Width(),
	}
}

// Register implements Node. The first source is the left side.
func (n *JoinNode) Register(sources ...Node) {
	n.sources = sources
	sources[0].SetDownstream(joinSide{n: n, left: true})
	sources[1].SetDownstream(joinSide{n: n})
}

type joinSide struct {
	n    *JoinNode
	left bool
}

func (s joinSide) Push(row rowenc.Row) error {
	if s.left {
		return s.n.pushLeft(row)
	}
	return s.n.pushRight(row)
}

func (s joinSide) End() error {
	if s.left {
		return s.n.endLeft()
	}
	return s.n.endRight()
}

func (s joinSide) OnError(err error) {
	s.n.OnError(err)
}

func (n *JoinNode) leftSource() Node  { return n.sources[0] }
func (n *JoinNode) rightSource() Node { return n.sources[1] }

func (n *JoinNode) tracksRight() bool {
	return n.typ == physicalplan.RightJoin || n.typ == physicalplan.FullJoin
}

// Request implements Node.
func (n *JoinNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.requested += cnt
	if !n.inLoop {
		n.ectx.Execute(n.join, n.OnError)
	}
	return nil
}

func (n *JoinNode) pushLeft(row rowenc.Row) error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waitingLeft <= 0 {
		return errPushWithoutDemand("join left side")
	}
	n.waitingLeft--
	n.leftInBuf.AddLast(row)
	return n.join()
}

func (n *JoinNode) pushRight(row rowenc.Row) error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waitingRight <= 0 {
		return errPushWithoutDemand("join right side")
	}
	n.waitingRight--
	n.right = append(n.right, row)
	if n.waitingRight == 0 {
		n.waitingRight = n.ectx.Config.InBufferSize
		return n.rightSource().Request(n.waitingRight)
	}
	return nil
}

func (n *JoinNode) endLeft() error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.waitingLeft = notWaiting
	return n.join()
}

func (n *JoinNode) endRight() error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.waitingRight = notWaiting
	return n.join()
}

func (n *JoinNode) join() error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waitingRight == notWaiting {
		if n.tracksRight() && n.rightMatched == nil {
			n.rightMatched = make([]bool, len(n.right))
		}
		if err := n.joinLeftRows(); err != nil {
			return err
		}
		if n.tracksRight() && n.leftDone() {
			if err := n.emitUnmatchedRight(); err != nil {
				return err
			}
		}
	}

	if n.waitingRight == 0 {
		n.waitingRight = n.ectx.Config.InBufferSize
		if err := n.rightSource().Request(n.waitingRight); err != nil {
			return err
		}
	}
	if n.waitingLeft == 0 && n.leftInBuf.Len() == 0 {
		n.waitingLeft = n.ectx.Config.InBufferSize
		if err := n.leftSource().Request(n.waitingLeft); err != nil {
			return err
		}
	}
	if n.requested > 0 && n.waitingRight == notWaiting && n.leftDone() &&
		(!n.tracksRight() || n.unmatchedRight == len(n.right)) {
		n.requested = 0
		return n.downstream.End()
	}
	return nil
}

// leftDone returns whether every left row has been joined.
func (n *JoinNode) leftDone() bool {
	return n.waitingLeft == notWaiting && n.left == nil && n.leftInBuf.Len() == 0
}

func (n *JoinNode) joinLeftRows() (err error) {
	n.inLoop = true
	defer func() { n.inLoop = false }()

	for n.requested > 0 && (n.left != nil || n.leftInBuf.Len() > 0) {
		if n.left == nil {
			n.left = n.leftInBuf.PopFirst()
			n.matched = false
		}
		for n.requested > 0 && n.rightIdx < len(n.right) {
			if err := n.checkState(); err != nil {
				return err
			}
			idx := n.rightIdx
			n.rightIdx++
			joined := rowenc.Concat(n.left, n.right[idx])
			if n.cond != nil && !n.cond(joined) {
				continue
			}
			n.matched = true
			if n.rightMatched != nil {
				n.rightMatched[idx] = true
			}
			switch n.typ {
			case physicalplan.SemiJoin, physicalplan.AntiJoin:
				// The outcome for this left row is known.
				n.rightIdx = len(n.right)
			default:
				n.requested--
				if err := n.downstream.Push(joined); err != nil {
					return err
				}
			}
		}
		if n.rightIdx < len(n.right) {
			break
		}
		if row, ok := n.finishLeft(); ok {
			if n.requested == 0 {
				break
			}
			n.requested--
			if err := n.downstream.Push(row); err != nil {
				return err
			}
		}
		n.left = nil
		n.rightIdx = 0
	}
	return nil
}

// finishLeft returns the row to emit once the current left row has been
// compared with every right row.
func (n *JoinNode) finishLeft() (rowenc.Row, bool) {
	switch n.typ {
	case physicalplan.LeftJoin, physicalplan.FullJoin:
		if !n.matched {
			return rowenc.Concat(n.left, rowenc.NullRow(n.rightWidth)), true
		}
	case physicalplan.SemiJoin:
		if n.matched {
			return n.left, true
		}
	case physicalplan.AntiJoin:
		if !n.matched {
			return n.left, true
		}
	}
	return nil, false
}

func (n *JoinNode) emitUnmatchedRight() error {
	n.inLoop = true
	defer func() { n.inLoop = false }()

	for n.requested > 0 && n.unmatchedRight < len(n.right) {
		if err := n.checkState(); err != nil {
			return err
		}
		idx := n.unmatchedRight
		n.unmatchedRight++
		if n.rightMatched[idx] {
			continue
		}
		n.requested--
		if err := n.downstream.Push(rowenc.Concat(rowenc.NullRow(n.leftWidth), n.right[idx])); err != nil {
			return err
		}
	}
	return nil
}

// Rewind implements Node.
func (n *JoinNode) Rewind() {
	n.requested = 0
	n.waitingLeft, n.waitingRight = 0, 0
	n.right = nil
	n.leftInBuf.Reset()
	n.left = nil
	n.rightIdx = 0
	n.matched = false
	n.rightMatched = nil
	n.unmatchedRight = 0
	n.rewindSources()
}
