// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log is the logging facade used throughout gridsql. Messages are
// formatted with redact so that sensitive arguments can be stripped, carry
// the logtags attached to the context, and are written as logfmt records by
// a go-kit logger.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// callerDepth is the number of frames between the go-kit Log call and the
// caller of the exported logging functions below.
const callerDepth = 5

var verbosity atomic.Int32

var redactableLogs atomic.Bool

var mu struct {
	syncutil.RWMutex
	logger kitlog.Logger
}

func init() {
	SetOutput(os.Stderr)
}

// SetOutput redirects all log output to w. It is intended for tests and for
// the command-line tools, which log to stderr by default.
func SetOutput(w io.Writer) {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	l = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.Caller(callerDepth))
	mu.Lock()
	defer mu.Unlock()
	mu.logger = l
}

// SetVerbosity sets the global verbosity level consulted by V and VEventf.
func SetVerbosity(v int32) {
	verbosity.Store(v)
}

// SetRedactable controls whether redaction markers are retained in the
// emitted messages. When disabled (the default) the markers are stripped.
func SetRedactable(b bool) {
	redactableLogs.Store(b)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return verbosity.Load() >= level
}

// Infof logs to the INFO log.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, level.InfoValue(), format, args...)
}

// Warningf logs to the WARNING log.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, level.WarnValue(), format, args...)
}

// Errorf logs to the ERROR log.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, level.ErrorValue(), format, args...)
}

// Fatalf logs to the ERROR log and then terminates the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, level.ErrorValue(), format, args...)
	exit(255)
}

// VEventf logs the message if the verbosity is at least the given level.
func VEventf(ctx context.Context, lvl int32, format string, args ...interface{}) {
	if !V(lvl) {
		return
	}
	logf(ctx, level.DebugValue(), format, args...)
}

// exit is overridden in tests.
var exit = os.Exit

func logf(ctx context.Context, lvl level.Value, format string, args ...interface{}) {
	msg := redact.Sprintf(format, args...)
	mu.RLock()
	l := mu.logger
	mu.RUnlock()

	kv := make([]interface{}, 0, 6)
	kv = append(kv, level.Key(), lvl)
	if tags := logtags.FromContext(ctx); tags != nil {
		kv = append(kv, "tags", tags.String())
	}
	if redactableLogs.Load() {
		kv = append(kv, "msg", string(msg))
	} else {
		kv = append(kv, "msg", msg.StripMarkers())
	}
	if err := l.Log(kv...); err != nil {
		fmt.Fprintf(os.Stderr, "log: unable to write entry: %v\n", err)
	}
}
