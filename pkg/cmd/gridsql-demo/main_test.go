// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagValidation(t *testing.T) {
	defer func(nodes, kill int) { *numNodes, *killNode = nodes, kill }(*numNodes, *killNode)

	*numNodes, *killNode = 1, -1
	err := rootCmd.RunE(rootCmd, nil)
	require.EqualError(t, err, "--nodes must be at least 2, got 1")

	for _, kill := range []int{0, 3} {
		*numNodes, *killNode = 3, kill
		err = rootCmd.RunE(rootCmd, nil)
		require.EqualError(t, err, "--kill-node must name a node other than the coordinator")
	}
}
