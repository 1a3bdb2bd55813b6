package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/service/summary"
	"github.com/secmon-lab/loremind/pkg/usecase"
)

func TestMemoryUseCase_AddMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("stores an embedded memory", func(t *testing.T) {
		uc, _ := newTestUseCases(t, newFlakyEmbedder(t))

		created, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
			CampaignID: 1,
			Type:       types.MemoryTypeLore,
			Content:    "  The old king buried his crown in the marsh  ",
			Tags:       []string{"king", "crown"},
			Importance: 4,
		})
		gt.NoError(t, err).Required()

		gt.Value(t, created.Content).Equal("The old king buried his crown in the marsh")
		gt.Value(t, created.Type).Equal(types.MemoryTypeLore)
		gt.Array(t, created.Embedding).Length(model.EmbeddingDimension)
		gt.Array(t, created.Tags).Equal([]string{"crown", "king"})
		gt.Value(t, created.Importance).Equal(types.Importance(4))
		gt.Value(t, created.Summary).Equal("")
	})

	t.Run("empty type becomes other", func(t *testing.T) {
		uc, _ := newTestUseCases(t, newFlakyEmbedder(t))

		created, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{CampaignID: 1, Content: "Something happened"})
		gt.NoError(t, err).Required()
		gt.Value(t, created.Type).Equal(types.MemoryTypeOther)
	})

	t.Run("derives a summary for long content", func(t *testing.T) {
		uc, _ := newTestUseCases(t, newFlakyEmbedder(t), usecase.WithSummarizer(summary.NewTruncator(30)))

		created, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
			CampaignID: 1,
			Content:    "The caravan reached the desert oasis after nine days of travel",
		})
		gt.NoError(t, err).Required()
		gt.String(t, created.Summary).NotEqual("")
		gt.Bool(t, len([]rune(created.Summary)) <= 30).True()

		kept, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
			CampaignID: 1,
			Content:    "The caravan reached the desert oasis after nine days of travel",
			Summary:    "Caravan at the oasis",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, kept.Summary).Equal("Caravan at the oasis")
	})

	testCases := []struct {
		name  string
		input usecase.AddMemoryInput
	}{
		{name: "zero campaign", input: usecase.AddMemoryInput{Content: "text"}},
		{name: "blank content", input: usecase.AddMemoryInput{CampaignID: 1, Content: " \t "}},
		{name: "importance above range", input: usecase.AddMemoryInput{CampaignID: 1, Content: "text", Importance: 11}},
		{name: "negative importance", input: usecase.AddMemoryInput{CampaignID: 1, Content: "text", Importance: -1}},
		{name: "empty tag", input: usecase.AddMemoryInput{CampaignID: 1, Content: "text", Tags: []string{" "}}},
		{name: "long tag", input: usecase.AddMemoryInput{CampaignID: 1, Content: "text", Tags: []string{strings.Repeat("x", 33)}}},
	}
	for _, tc := range testCases {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			emb := newFlakyEmbedder(t)
			uc, _ := newTestUseCases(t, emb)

			_, err := uc.Memory.AddMemory(ctx, tc.input)
			gt.Error(t, err).Is(model.ErrValidation)
			gt.Number(t, emb.calls.Load()).Equal(int32(0))
		})
	}

	t.Run("failing provider leaves the count unchanged", func(t *testing.T) {
		emb := newFlakyEmbedder(t)
		uc, _ := newTestUseCases(t, emb)

		_, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{CampaignID: 1, Content: "First memory"})
		gt.NoError(t, err).Required()

		emb.failAll.Store(true)
		_, err = uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{CampaignID: 1, Content: "Second memory"})
		gt.Error(t, err).Is(model.ErrEmbeddingProvider)

		count, err := uc.Memory.GetMemoryCount(ctx, 1)
		gt.NoError(t, err).Required()
		gt.Number(t, count).Equal(1)
	})

	t.Run("embedding timeout is a provider error", func(t *testing.T) {
		emb := newFlakyEmbedder(t)
		emb.block = true
		uc, _ := newTestUseCases(t, emb, usecase.WithEmbedTimeout(20*time.Millisecond))

		_, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{CampaignID: 1, Content: "Slow memory"})
		gt.Error(t, err).Is(model.ErrEmbeddingProvider)

		count, err := uc.Memory.GetMemoryCount(ctx, 1)
		gt.NoError(t, err).Required()
		gt.Number(t, count).Equal(0)
	})
}

func TestMemoryUseCase_DragonScenario(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestUseCases(t, newFlakyEmbedder(t))

	unrelated := []string{
		"The blacksmith Garrick repaired three rusty helmets and sharpened several old farming tools for the village",
		"Merchants from the southern coast argued loudly about silk prices, spices, wine taxes and harbor fees",
		"The bard composed a cheerful tavern song celebrating harvest festivals, dancing goats and golden wheat fields",
	}
	for _, content := range unrelated {
		_, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
			CampaignID: 1,
			Type:       types.MemoryTypeNarration,
			Content:    content,
		})
		gt.NoError(t, err).Required()
	}

	dragon, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
		CampaignID: 1,
		Type:       types.MemoryTypeLore,
		Content:    "The dragon Zephyrax sleeps beneath the Ironhold Mountains",
		Importance: 8,
	})
	gt.NoError(t, err).Required()

	results, err := uc.Memory.SearchMemories(ctx, 1, "dragon treasure", 5)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(4).Required()

	gt.Value(t, results[0].Memory.ID).Equal(dragon.ID)
	for _, r := range results[1:] {
		gt.Bool(t, results[0].Score > r.Score).True()
	}
}

func TestMemoryUseCase_SearchMemories(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestUseCases(t, newFlakyEmbedder(t))

	for i := range 8 {
		_, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
			CampaignID: 1,
			Content:    fmt.Sprintf("Goblin raid number %d on the northern farms", i),
		})
		gt.NoError(t, err).Required()
	}
	_, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{CampaignID: 2, Content: "Goblin raid in another world"})
	gt.NoError(t, err).Required()

	t.Run("bounded by topK and scoped to the campaign", func(t *testing.T) {
		for _, k := range []int{1, 3, 8, 20} {
			results, err := uc.Memory.SearchMemories(ctx, 1, "goblin raid", k)
			gt.NoError(t, err).Required()
			gt.Bool(t, len(results) <= k).True()
			for _, r := range results {
				gt.Value(t, r.Memory.CampaignID).Equal(int64(1))
				gt.Bool(t, r.Score >= 0 && r.Score <= 100).True()
			}
		}
	})

	t.Run("default topK", func(t *testing.T) {
		results, err := uc.Memory.SearchMemories(ctx, 1, "goblin raid", 0)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(8)
	})

	t.Run("empty campaign returns empty result", func(t *testing.T) {
		results, err := uc.Memory.SearchMemories(ctx, 99, "goblin", 5)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(0)
	})

	t.Run("blank query is invalid", func(t *testing.T) {
		_, err := uc.Memory.SearchMemories(ctx, 1, "  ", 5)
		gt.Error(t, err).Is(model.ErrValidation)
	})
}

func TestMemoryUseCase_Lifecycle(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestUseCases(t, newFlakyEmbedder(t))

	created, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
		CampaignID: 1,
		Type:       types.MemoryTypeNPCInteraction,
		Content:    "The innkeeper Mira warned the party about wolves on the pass",
	})
	gt.NoError(t, err).Required()

	t.Run("memory is contained until deleted", func(t *testing.T) {
		memories, err := uc.Memory.GetMemories(ctx, 1)
		gt.NoError(t, err).Required()
		gt.Bool(t, containsMemory(memories, created.ID)).True()

		got, err := uc.Memory.GetMemory(ctx, 1, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Content).Equal(created.Content)
	})

	t.Run("importance update is idempotent", func(t *testing.T) {
		gt.NoError(t, uc.Memory.UpdateMemoryImportance(ctx, 1, created.ID, 7)).Required()
		first, err := uc.Memory.GetMemory(ctx, 1, created.ID)
		gt.NoError(t, err).Required()

		gt.NoError(t, uc.Memory.UpdateMemoryImportance(ctx, 1, created.ID, 7)).Required()
		second, err := uc.Memory.GetMemory(ctx, 1, created.ID)
		gt.NoError(t, err).Required()

		gt.Value(t, second.Importance).Equal(types.Importance(7))
		gt.Value(t, second.Importance).Equal(first.Importance)
		gt.Value(t, second.Content).Equal(first.Content)
		gt.Array(t, second.Embedding).Equal(first.Embedding)

		err = uc.Memory.UpdateMemoryImportance(ctx, 1, created.ID, 11)
		gt.Error(t, err).Is(model.ErrValidation)
	})

	t.Run("cross-campaign delete fails and keeps the memory", func(t *testing.T) {
		err := uc.Memory.DeleteMemory(ctx, 2, created.ID)
		gt.Error(t, err).Is(model.ErrOwnership)

		got, err := uc.Memory.GetMemory(ctx, 1, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.ID).Equal(created.ID)

		_, err = uc.Memory.GetMemory(ctx, 2, created.ID)
		gt.Error(t, err).Is(model.ErrOwnership)

		err = uc.Memory.UpdateMemoryImportance(ctx, 2, created.ID, 1)
		gt.Error(t, err).Is(model.ErrOwnership)
	})

	t.Run("deleted memory is invisible", func(t *testing.T) {
		gt.NoError(t, uc.Memory.DeleteMemory(ctx, 1, created.ID)).Required()

		memories, err := uc.Memory.GetMemories(ctx, 1)
		gt.NoError(t, err).Required()
		gt.Bool(t, containsMemory(memories, created.ID)).False()

		results, err := uc.Memory.SearchMemories(ctx, 1, "innkeeper Mira wolves", 10)
		gt.NoError(t, err).Required()
		gt.Bool(t, containsScored(results, created.ID)).False()

		_, err = uc.Memory.GetMemory(ctx, 1, created.ID)
		gt.Error(t, err).Is(model.ErrNotFound)

		err = uc.Memory.DeleteMemory(ctx, 1, created.ID)
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("rejects invalid identifiers", func(t *testing.T) {
		_, err := uc.Memory.GetMemories(ctx, 0)
		gt.Error(t, err).Is(model.ErrValidation)

		_, err = uc.Memory.GetMemory(ctx, 1, "")
		gt.Error(t, err).Is(model.ErrValidation)

		_, err = uc.Memory.GetMemoryCount(ctx, -3)
		gt.Error(t, err).Is(model.ErrValidation)
	})
}

func TestMemoryUseCase_BuildNarratorContext(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestUseCases(t, newFlakyEmbedder(t))

	_, err := uc.Memory.AddMemory(ctx, usecase.AddMemoryInput{
		CampaignID:    1,
		Type:          types.MemoryTypeLore,
		Content:       "The dragon Zephyrax sleeps beneath the Ironhold Mountains",
		SessionNumber: model.IntPtr(2),
		TurnNumber:    model.IntPtr(14),
		Importance:    8,
	})
	gt.NoError(t, err).Required()

	block, err := uc.Memory.BuildNarratorContext(ctx, 1, "dragon", 3)
	gt.NoError(t, err).Required()
	gt.String(t, block).Contains("## Campaign memories")
	gt.String(t, block).Contains("[Lore] The dragon Zephyrax sleeps beneath the Ironhold Mountains")
	gt.String(t, block).Contains("session 2, turn 14, importance 8")

	empty, err := uc.Memory.BuildNarratorContext(ctx, 5, "dragon", 3)
	gt.NoError(t, err).Required()
	gt.Value(t, empty).Equal("")
}
