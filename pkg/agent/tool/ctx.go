package tool

import (
	"context"
	"fmt"
)

// ProgressFunc receives short status lines while narrator tools run
type ProgressFunc func(ctx context.Context, status string)

type progressKey struct{}

// WithProgress attaches fn to ctx. Tools report through Progress.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

// Progress reports status to the ProgressFunc in ctx, if any
func Progress(ctx context.Context, format string, args ...any) {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok {
		return
	}
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	fn(ctx, format)
}
