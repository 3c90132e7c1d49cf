// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distsql

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/exchange"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCloseOnNodeFailures(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	cfg := execinfra.DefaultConfig()
	ctx := context.Background()

	t.Run("warnings are rate limited", func(t *testing.T) {
		buf.Reset()
		metrics := execinfra.NewMetrics(nil)
		var sent int
		send := func(context.Context, distribution.NodeID, exchange.Message) error {
			sent++
			return errors.New("connection reset")
		}
		c := newCancelFragmentsCoordinator(send, &cfg, metrics)
		c.closeOnNode(ctx, &queriesOnNode{
			queryIDs: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
			node:     "n2",
		})
		require.Equal(t, 3, sent)
		require.Equal(t, 3.0, testutil.ToFloat64(metrics.CloseRequestsFailed))
		require.Equal(t, 0.0, testutil.ToFloat64(metrics.CloseRequestsSent))
		out := buf.String()
		require.Equal(t, 1, strings.Count(out, "failed to close query"), out)
		require.Contains(t, out, "level=warn")
		require.Contains(t, out, "connection reset")
	})

	t.Run("unreachable node", func(t *testing.T) {
		metrics := execinfra.NewMetrics(nil)
		var sent int
		send := func(context.Context, distribution.NodeID, exchange.Message) error {
			sent++
			return errors.Wrap(exchange.ErrNodeUnreachable, "n3")
		}
		c := newCancelFragmentsCoordinator(send, &cfg, metrics)
		c.closeOnNode(ctx, &queriesOnNode{
			queryIDs: []uuid.UUID{uuid.New(), uuid.New()},
			node:     "n3",
		})
		require.Equal(t, 1, sent)
		require.Equal(t, 1.0, testutil.ToFloat64(metrics.CloseRequestsFailed))
	})
}

func TestCheckTopologyVersion(t *testing.T) {
	require.NoError(t, checkTopologyVersion(4, 4))
	for _, tc := range []struct{ planned, local distribution.TopologyVersion }{
		{5, 4},
		{3, 4},
	} {
		err := checkTopologyVersion(tc.planned, tc.local)
		require.True(t, errors.Is(err, execinfra.ErrTopology), "%+v", err)
	}
}
