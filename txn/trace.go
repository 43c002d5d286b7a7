package txn

import (
	"context"

	"golang.org/x/net/trace"
)

// addTrace attaches a best-effort diagnostic line to the *trace.Trace bound
// to ctx, if any. It's a no-op when no trace is bound, exactly like
// consumer/service.go's addTrace in the teacher package: callers sprinkle
// it through state-machine-adjacent code paths without needing to guard
// every call site themselves.
func addTrace(ctx context.Context, format string, args ...interface{}) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf(format, args...)
	}
}
