// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testcluster

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/distsql"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowexec"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
)

// MemStore holds the table rows stored on one node, by partition.
type MemStore struct {
	mu struct {
		syncutil.RWMutex
		tables map[distribution.TableID]map[int][]rowenc.Row
	}
}

var _ distsql.TableResolver = &MemStore{}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	s := &MemStore{}
	s.mu.tables = make(map[distribution.TableID]map[int][]rowenc.Row)
	return s
}

// Insert adds a row to a partition of a table.
func (s *MemStore) Insert(table distribution.TableID, partition int, row rowenc.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.mu.tables[table]
	if parts == nil {
		parts = make(map[int][]rowenc.Row)
		s.mu.tables[table] = parts
	}
	parts[partition] = append(parts[partition], row)
}

// Scan implements distsql.TableResolver. The returned iterator reads a
// snapshot of the rows.
func (s *MemStore) Scan(
	table distribution.TableID, partitions []int,
) (rowexec.RowIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts, ok := s.mu.tables[table]
	if !ok {
		return nil, errors.Newf("table %d is not stored on this node", table)
	}
	if partitions == nil {
		for p := range parts {
			partitions = append(partitions, p)
		}
		sort.Ints(partitions)
	}
	var rows []rowenc.Row
	for _, p := range partitions {
		rows = append(rows, parts[p]...)
	}
	return &memIterator{rows: rows}, nil
}

type memIterator struct {
	rows []rowenc.Row
	pos  int
}

func (it *memIterator) Next() (rowenc.Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	it.pos++
	return it.rows[it.pos-1], true, nil
}

func (it *memIterator) Close() {}
