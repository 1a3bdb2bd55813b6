package tool_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/agent/tool"
)

func TestProgress(t *testing.T) {
	var got []string
	ctx := tool.WithProgress(context.Background(), func(_ context.Context, status string) {
		got = append(got, status)
	})

	tool.Progress(ctx, "Recalling: %s", "dragon")
	tool.Progress(ctx, "100% done")
	gt.Array(t, got).Equal([]string{"Recalling: dragon", "100% done"})

	// no reporter attached
	tool.Progress(context.Background(), "ignored")
	gt.Value(t, tool.WithProgress(context.Background(), nil)).Equal(context.Background())
}
