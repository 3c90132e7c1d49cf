// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// gridsql-demo starts an in-process cluster, loads a partitioned table and
// runs a distributed left join over it, optionally killing a node while the
// rows are read.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/testutils/testcluster"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var cfg = execinfra.DefaultConfig()

var rootFlags = pflag.NewFlagSet(`demo`, pflag.ExitOnError)
var numNodes = rootFlags.Int("nodes", 3, "number of nodes in the cluster")
var numRows = rootFlags.Int("rows", 10000, "number of rows in the demo table")
var numPartitions = rootFlags.Int("partitions", 16, "number of partitions of the demo table")
var printRows = rootFlags.Int("print", 10, "number of result rows to print")
var killNode = rootFlags.Int("kill-node", -1, "index of a node to kill while reading, -1 for none")
var killAfter = rootFlags.Int("kill-after", 100, "number of rows to read before killing the node")
var verbosity = rootFlags.Int32("verbosity", 0, "log verbosity")

var rootCmd = &cobra.Command{
	Use:          "gridsql-demo",
	Short:        "Run a distributed query on an in-process cluster",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if *numNodes < 2 {
			return errors.Newf("--nodes must be at least 2, got %d", *numNodes)
		}
		if *killNode == 0 || *killNode >= *numNodes {
			return errors.New("--kill-node must name a node other than the coordinator")
		}
		log.SetVerbosity(*verbosity)
		return runDemo(cmd.Context())
	},
}

func init() {
	cfg.RegisterFlags(rootFlags)
	rootCmd.Flags().AddFlagSet(rootFlags)
}

const demoTable distribution.TableID = 1

var (
	itemType  = rowenc.MakeRowType("id", "category", "price")
	namesType = rowenc.MakeRowType("category", "name")
)

func runDemo(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	tc := testcluster.StartTestCluster(ctx, *numNodes, testcluster.ClusterArgs{
		Config:     &cfg,
		Registerer: reg,
	})
	defer tc.Stop()

	nodes := make([]distribution.NodeID, 0, *numNodes-1)
	for i := 1; i < *numNodes; i++ {
		nodes = append(nodes, testcluster.NodeName(i))
	}
	assignment := make([][]distribution.NodeID, *numPartitions)
	for p := range assignment {
		assignment[p] = []distribution.NodeID{nodes[p%len(nodes)]}
	}
	rows := make([]rowenc.Row, *numRows)
	for i := range rows {
		rows[i] = rowenc.Row{i, i % 5, int64(i*37) % 1000}
	}
	tc.AddPartitionedTable(distribution.TableInfo{
		ID: demoTable, Name: "items", KeyColumns: []int{0}, RowType: itemType,
	}, assignment, rows)

	// Categories 3 and 4 have no name and come out padded with nulls.
	plan := physicalplan.Split(&physicalplan.Join{
		Type: physicalplan.LeftJoin,
		Left: &physicalplan.Exchange{
			Input: &physicalplan.Filter{
				Input: &physicalplan.Scan{Table: demoTable, Columns: itemType},
				Pred:  func(r rowenc.Row) bool { return r[2].(int64) >= 500 },
			},
			Distribution: distribution.SingleDistribution(),
		},
		Right: &physicalplan.Values{
			Type: namesType,
			Rows: []rowenc.Row{{0, "books"}, {1, "games"}, {2, "tools"}},
		},
		Cond: func(r rowenc.Row) bool { return r[1] == r[3] },
	})

	start := time.Now()
	q, err := tc.Server(0).Exec.ExecutePlan(ctx, plan)
	if err != nil {
		return err
	}
	it := q.Iterator()
	var result []rowenc.Row
	var queryErr error
	for {
		if *killNode > 0 && len(result) == *killAfter {
			fmt.Printf("killing node %s after %d rows\n", testcluster.NodeName(*killNode), len(result))
			tc.KillNode(*killNode)
		}
		ok, err := it.HasNext()
		if err != nil {
			queryErr = err
			break
		}
		if !ok {
			break
		}
		row, err := it.Next()
		if err != nil {
			queryErr = err
			break
		}
		result = append(result, row)
	}
	elapsed := time.Since(start)

	printResult(plan.RowType(), result)
	fmt.Printf("\n%s rows in %s\n", humanize.Comma(int64(len(result))), elapsed.Round(time.Microsecond))
	if queryErr != nil {
		fmt.Printf("query failed: %v\n", queryErr)
	}
	// Let the remote fragments report back before reading the metrics.
	deadline := time.Now().Add(5 * time.Second)
	for !q.IsCompleted() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return printMetrics(reg)
}

func printResult(rt rowenc.RowType, rows []rowenc.Row) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(rt.Names())
	for i, row := range rows {
		if i == *printRows {
			break
		}
		cells := make([]string, len(row))
		for j, d := range row {
			if d == nil {
				cells[j] = "NULL"
			} else {
				cells[j] = fmt.Sprint(d)
			}
		}
		table.Append(cells)
	}
	table.Render()
}

func printMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	type sample struct{ name, node, value string }
	var samples []sample
	for _, mf := range families {
		name := strings.TrimPrefix(mf.GetName(), "gridsql_distsql_")
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			}
			if v == 0 {
				continue
			}
			node := ""
			for _, l := range m.GetLabel() {
				if l.GetName() == "node" {
					node = l.GetValue()
				}
			}
			samples = append(samples, sample{name, node, humanize.Comma(int64(v))})
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].node != samples[j].node {
			return samples[i].node < samples[j].node
		}
		return samples[i].name < samples[j].name
	})
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"node", "metric", "value"})
	for _, s := range samples {
		table.Append([]string{s.node, s.name, s.value})
	}
	table.Render()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
