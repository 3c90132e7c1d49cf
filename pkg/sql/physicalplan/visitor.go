// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package physicalplan

import "github.com/cockroachdb/errors"

// Visitor maps every kind of plan node to a result.
type Visitor[T any] interface {
	VisitScan(*Scan) (T, error)
	VisitValues(*Values) (T, error)
	VisitFilter(*Filter) (T, error)
	VisitProject(*Project) (T, error)
	VisitLimit(*Limit) (T, error)
	VisitJoin(*Join) (T, error)
	VisitIndexSpool(*IndexSpool) (T, error)
	VisitUnionAll(*UnionAll) (T, error)
	VisitSender(*Sender) (T, error)
	VisitReceiver(*Receiver) (T, error)
}

// Visit dispatches n to the matching method of v. Exchange nodes only exist
// before the plan is split and are rejected.
func Visit[T any](n Node, v Visitor[T]) (T, error) {
	switch n := n.(type) {
	case *Scan:
		return v.VisitScan(n)
	case *Values:
		return v.VisitValues(n)
	case *Filter:
		return v.VisitFilter(n)
	case *Project:
		return v.VisitProject(n)
	case *Limit:
		return v.VisitLimit(n)
	case *Join:
		return v.VisitJoin(n)
	case *IndexSpool:
		return v.VisitIndexSpool(n)
	case *UnionAll:
		return v.VisitUnionAll(n)
	case *Sender:
		return v.VisitSender(n)
	case *Receiver:
		return v.VisitReceiver(n)
	default:
		var zero T
		return zero, errors.AssertionFailedf("unexpected plan node %T", n)
	}
}

// walk calls fn for n and every node below it within the same fragment.
func walk(n Node, fn func(Node)) {
	fn(n)
	for _, in := range n.Inputs() {
		walk(in, fn)
	}
}
