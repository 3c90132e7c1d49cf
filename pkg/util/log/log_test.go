// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })
	return &buf
}

func TestInfofCarriesTags(t *testing.T) {
	buf := captureOutput(t)
	ctx := logtags.AddTag(context.Background(), "node", "node1")
	ctx = logtags.AddTag(ctx, "frag", 3)
	Infof(ctx, "hello %s", redact.Safe("world"))

	out := buf.String()
	require.Contains(t, out, "level=info")
	require.Contains(t, out, `tags="node=node1,frag=3"`)
	require.Contains(t, out, `msg="hello world"`)
}

func TestRedactableMarkers(t *testing.T) {
	buf := captureOutput(t)
	ctx := context.Background()

	Warningf(ctx, "user value %s", "secret")
	require.Contains(t, buf.String(), "user value secret")
	require.NotContains(t, buf.String(), "‹")

	buf.Reset()
	SetRedactable(true)
	defer SetRedactable(false)
	Warningf(ctx, "user value %s", "secret")
	require.Contains(t, buf.String(), "‹secret›")
}

func TestVEventf(t *testing.T) {
	buf := captureOutput(t)
	ctx := context.Background()
	defer SetVerbosity(0)

	SetVerbosity(1)
	VEventf(ctx, 2, "too verbose")
	require.Empty(t, buf.String())
	require.True(t, V(1))
	require.False(t, V(2))

	SetVerbosity(2)
	VEventf(ctx, 2, "verbose enough")
	require.Contains(t, buf.String(), "verbose enough")
}

func TestFatalfExits(t *testing.T) {
	captureOutput(t)
	var code int
	exit = func(c int) { code = c }
	defer func() { exit = os.Exit }()
	Fatalf(context.Background(), "boom")
	require.Equal(t, 255, code)
}

func TestEveryN(t *testing.T) {
	start := time.Now()
	e := Every(time.Minute)
	require.True(t, e.shouldLog(start))
	require.False(t, e.shouldLog(start.Add(time.Second)))
	require.True(t, e.shouldLog(start.Add(2*time.Minute)))
}
