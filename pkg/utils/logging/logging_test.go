package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

func TestFrom(t *testing.T) {
	t.Run("falls back to default logger", func(t *testing.T) {
		gt.Value(t, logging.From(context.Background())).Equal(logging.Default())
	})

	t.Run("returns embedded logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		ctx := logging.With(context.Background(), logger)

		logging.From(ctx).Info("hello", "campaign_id", 1)
		gt.String(t, buf.String()).Contains("hello")
		gt.String(t, buf.String()).Contains(`"campaign_id":1`)
	})
}

func TestSetDefault(t *testing.T) {
	orig := logging.Default()
	t.Cleanup(func() { logging.SetDefault(orig) })

	logging.SetDefault(nil)
	gt.Value(t, logging.Default()).Equal(orig)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	logging.SetDefault(logger)
	gt.Value(t, logging.Default()).Equal(logger)
}
