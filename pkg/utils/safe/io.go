package safe

import (
	"context"
	"io"
	"log/slog"

	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

// Close closes c and logs a failure. what names the resource in the log.
// A nil closer is ignored.
func Close(ctx context.Context, c io.Closer, what string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logging.From(ctx).Error("failed to close "+what,
			slog.String("resource", what),
			slog.Any("error", err))
	}
}

// Write writes data to w once the response status is already committed, so
// a failure can only be logged
func Write(ctx context.Context, w io.Writer, data []byte) {
	if w == nil {
		return
	}
	if n, err := w.Write(data); err != nil {
		logging.From(ctx).Error("failed to write response",
			slog.Int("written", n),
			slog.Int("size", len(data)),
			slog.Any("error", err))
	}
}
