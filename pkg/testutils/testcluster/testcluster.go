// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package testcluster runs a cluster of execution services in a single
// process. The nodes share a static topology and talk through a loopback
// transport.
package testcluster

import (
	"context"
	"fmt"

	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/distsql"
	"github.com/dmekhanikov/gridsql/pkg/sql/exchange"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
	"github.com/prometheus/client_golang/prometheus"
)

// ClusterArgs configure a TestCluster.
type ClusterArgs struct {
	// Config is shared by every node. The defaults are used when nil.
	Config *execinfra.Config
	// Knobs are shared by every node.
	Knobs *execinfra.TestingKnobs
	// Registerer, if set, receives the metrics of every node, labeled with
	// the node id.
	Registerer prometheus.Registerer
}

// Server is one node of a TestCluster.
type Server struct {
	NodeID   distribution.NodeID
	Exec     *distsql.ExecutionService
	Exchange *exchange.Service
	Store    *MemStore
	Metrics  *execinfra.Metrics
}

// TestCluster is a set of nodes running in the current process.
type TestCluster struct {
	topology  *distribution.StaticTopology
	transport *exchange.LoopbackTransport
	servers   []*Server

	mu struct {
		syncutil.Mutex
		dead    map[distribution.NodeID]bool
		stopped bool
	}
}

// NodeName returns the id of the i-th node of a cluster.
func NodeName(i int) distribution.NodeID {
	return distribution.NodeID(fmt.Sprintf("n%d", i+1))
}

// StartTestCluster starts a cluster of the given number of nodes. The
// caller must Stop it.
func StartTestCluster(ctx context.Context, nodes int, args ClusterArgs) *TestCluster {
	ids := make([]distribution.NodeID, nodes)
	for i := range ids {
		ids[i] = NodeName(i)
	}
	tc := &TestCluster{
		topology:  distribution.NewStaticTopology(ids...),
		transport: exchange.NewLoopbackTransport(),
	}
	tc.mu.dead = make(map[distribution.NodeID]bool)
	cfg := args.Config
	if cfg == nil {
		c := execinfra.DefaultConfig()
		cfg = &c
	}
	for _, id := range ids {
		var reg prometheus.Registerer
		if args.Registerer != nil {
			reg = prometheus.WrapRegistererWith(prometheus.Labels{"node": string(id)}, args.Registerer)
		}
		metrics := execinfra.NewMetrics(reg)
		view := tc.topology.ForNode(id)
		exch := exchange.NewService(tc.transport, view, metrics)
		store := NewMemStore()
		exec := distsql.NewExecutionService(ctx, distsql.ServerConfig{
			Topology: view,
			Exchange: exch,
			Tables:   store,
			Config:   cfg,
			Metrics:  metrics,
			Knobs:    args.Knobs,
		})
		tc.servers = append(tc.servers, &Server{
			NodeID:   id,
			Exec:     exec,
			Exchange: exch,
			Store:    store,
			Metrics:  metrics,
		})
	}
	return tc
}

// NumServers returns the number of nodes, dead ones included.
func (tc *TestCluster) NumServers() int {
	return len(tc.servers)
}

// Server returns the i-th node.
func (tc *TestCluster) Server(i int) *Server {
	return tc.servers[i]
}

// Topology returns the topology shared by the nodes.
func (tc *TestCluster) Topology() *distribution.StaticTopology {
	return tc.topology
}

// AddPartitionedTable registers a partitioned table and stores every row
// on the owners of its partition. The partition is computed from the first
// key column of the table.
func (tc *TestCluster) AddPartitionedTable(
	info distribution.TableInfo, assignment [][]distribution.NodeID, rows []rowenc.Row,
) {
	tc.topology.AddPartitionedTable(info, assignment)
	for _, row := range rows {
		p := tc.topology.Partition(info.ID, row[info.KeyColumns[0]])
		for _, owner := range assignment[p] {
			tc.serverByID(owner).Store.Insert(info.ID, p, row)
		}
	}
}

// AddReplicatedTable registers a replicated table and stores all of its
// rows on every given node.
func (tc *TestCluster) AddReplicatedTable(
	info distribution.TableInfo, nodes []distribution.NodeID, rows []rowenc.Row,
) {
	tc.topology.AddReplicatedTable(info, nodes)
	for _, node := range nodes {
		s := tc.serverByID(node)
		for _, row := range rows {
			s.Store.Insert(info.ID, 0, row)
		}
	}
}

func (tc *TestCluster) serverByID(id distribution.NodeID) *Server {
	for _, s := range tc.servers {
		if s.NodeID == id {
			return s
		}
	}
	panic(fmt.Sprintf("unknown node %s", id))
}

// KillNode takes the i-th node out of the cluster. Messages to and from it
// are dropped and the surviving nodes are told it left. The node's own
// goroutines keep running until Stop.
func (tc *TestCluster) KillNode(i int) {
	s := tc.servers[i]
	tc.mu.Lock()
	if tc.mu.dead[s.NodeID] {
		tc.mu.Unlock()
		return
	}
	tc.mu.dead[s.NodeID] = true
	tc.mu.Unlock()

	log.Infof(context.Background(), "killing node %s", s.NodeID)
	tc.topology.RemoveNode(s.NodeID)
	tc.transport.Kill(s.NodeID)
	for _, other := range tc.servers {
		if other == s || tc.isDead(other.NodeID) {
			continue
		}
		other.Exec.OnNodeLeft(s.NodeID)
	}
}

func (tc *TestCluster) isDead(id distribution.NodeID) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.mu.dead[id]
}

// Stop shuts every node down.
func (tc *TestCluster) Stop() {
	tc.mu.Lock()
	if tc.mu.stopped {
		tc.mu.Unlock()
		return
	}
	tc.mu.stopped = true
	tc.mu.Unlock()
	for _, s := range tc.servers {
		s.Exec.Stop()
	}
	tc.transport.Stop()
}
