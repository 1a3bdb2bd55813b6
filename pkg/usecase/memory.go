package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/service/recall"
	"github.com/secmon-lab/loremind/pkg/service/summary"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

// MemoryUseCase is the lifecycle surface over campaign memories
type MemoryUseCase struct {
	repo       interfaces.Repository
	embedder   *embedder
	summarizer summary.Service
	engine     *recall.Engine
	ingest     *IngestUseCase
}

// NewMemoryUseCase creates a new MemoryUseCase
func NewMemoryUseCase(repo interfaces.Repository, emb *embedder, summarizer summary.Service, engine *recall.Engine, ingest *IngestUseCase) *MemoryUseCase {
	return &MemoryUseCase{
		repo:       repo,
		embedder:   emb,
		summarizer: summarizer,
		engine:     engine,
		ingest:     ingest,
	}
}

// AddMemoryInput is a manual memory addition
type AddMemoryInput struct {
	CampaignID    int64
	Type          types.MemoryType
	Content       string
	Summary       string
	SessionNumber *int
	TurnNumber    *int
	Tags          []string
	Importance    types.Importance
}

func validateCampaignID(campaignID int64) error {
	if campaignID <= 0 {
		return goerr.Wrap(model.ErrValidation, "campaign ID must be positive", goerr.V(model.CampaignIDKey, campaignID))
	}
	return nil
}

func validateMemoryID(memoryID model.MemoryID) error {
	if strings.TrimSpace(string(memoryID)) == "" {
		return goerr.Wrap(model.ErrValidation, "memory ID is required")
	}
	return nil
}

// AddMemory embeds and stores a memory. Provider failures are returned to
// the caller and nothing is stored.
func (uc *MemoryUseCase) AddMemory(ctx context.Context, input AddMemoryInput) (*model.Memory, error) {
	if err := validateCampaignID(input.CampaignID); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, goerr.Wrap(model.ErrValidation, "memory content is required", goerr.V(model.CampaignIDKey, input.CampaignID))
	}
	if err := input.Importance.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrValidation, err.Error(), goerr.V(model.CampaignIDKey, input.CampaignID))
	}
	tags, err := model.NormalizeTags(input.Tags)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid tags", goerr.V(model.CampaignIDKey, input.CampaignID))
	}

	summaryText := strings.TrimSpace(input.Summary)
	if summaryText == "" {
		summaryText = uc.summarizer.Summarize(ctx, content)
	}

	vector, err := uc.embedder.embed(ctx, content)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed memory", goerr.V(model.CampaignIDKey, input.CampaignID))
	}

	created, err := uc.repo.Memory().Create(ctx, input.CampaignID, &model.Memory{
		Type:          types.ParseMemoryType(input.Type.String()),
		Content:       content,
		Summary:       summaryText,
		Embedding:     vector,
		SessionNumber: input.SessionNumber,
		TurnNumber:    input.TurnNumber,
		Tags:          tags,
		Importance:    input.Importance,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store memory", goerr.V(model.CampaignIDKey, input.CampaignID))
	}

	logging.From(ctx).Info("memory added",
		"campaign_id", created.CampaignID,
		"memory_id", created.ID,
		"type", created.Type)

	return created, nil
}

// SearchMemories embeds query and returns at most topK ranked memories of
// the campaign. topK <= 0 uses the configured default.
func (uc *MemoryUseCase) SearchMemories(ctx context.Context, campaignID int64, query string, topK int) ([]*model.ScoredMemory, error) {
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, goerr.Wrap(model.ErrValidation, "search query is required", goerr.V(model.CampaignIDKey, campaignID))
	}

	vector, err := uc.embedder.embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed search query", goerr.V(model.CampaignIDKey, campaignID))
	}

	results, err := uc.engine.Search(ctx, campaignID, vector, topK)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetMemories returns every memory of the campaign, newest first
func (uc *MemoryUseCase) GetMemories(ctx context.Context, campaignID int64) ([]*model.Memory, error) {
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}

	memories, err := uc.repo.Memory().List(ctx, campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V(model.CampaignIDKey, campaignID))
	}
	return memories, nil
}

// GetMemory returns one memory of the campaign
func (uc *MemoryUseCase) GetMemory(ctx context.Context, campaignID int64, memoryID model.MemoryID) (*model.Memory, error) {
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}
	if err := validateMemoryID(memoryID); err != nil {
		return nil, err
	}

	return uc.repo.Memory().Get(ctx, campaignID, memoryID)
}

// GetMemoryCount returns the number of memories of the campaign
func (uc *MemoryUseCase) GetMemoryCount(ctx context.Context, campaignID int64) (int, error) {
	if err := validateCampaignID(campaignID); err != nil {
		return 0, err
	}

	count, err := uc.repo.Memory().Count(ctx, campaignID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count memories", goerr.V(model.CampaignIDKey, campaignID))
	}
	return count, nil
}

// DeleteMemory removes a memory. Once it returns no search of the campaign
// returns the memory.
func (uc *MemoryUseCase) DeleteMemory(ctx context.Context, campaignID int64, memoryID model.MemoryID) error {
	if err := validateCampaignID(campaignID); err != nil {
		return err
	}
	if err := validateMemoryID(memoryID); err != nil {
		return err
	}

	if err := uc.repo.Memory().Delete(ctx, campaignID, memoryID); err != nil {
		return err
	}

	logging.From(ctx).Info("memory deleted",
		"campaign_id", campaignID,
		"memory_id", memoryID)
	return nil
}

// UpdateMemoryImportance sets the importance of a memory. Setting the same
// value twice leaves the memory unchanged.
func (uc *MemoryUseCase) UpdateMemoryImportance(ctx context.Context, campaignID int64, memoryID model.MemoryID, boost int) error {
	if err := validateCampaignID(campaignID); err != nil {
		return err
	}
	if err := validateMemoryID(memoryID); err != nil {
		return err
	}
	importance := types.Importance(boost)
	if err := importance.Validate(); err != nil {
		return goerr.Wrap(model.ErrValidation, err.Error(),
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V(model.MemoryIDKey, memoryID))
	}

	return uc.repo.Memory().SetImportance(ctx, campaignID, memoryID, importance)
}

// InitializeMemories re-syncs the campaign's context entries into memories
func (uc *MemoryUseCase) InitializeMemories(ctx context.Context, campaignID int64) (*InitializeResult, error) {
	return uc.ingest.InitializeMemories(ctx, campaignID)
}

// BuildNarratorContext renders the memories most relevant to query as a
// prompt block for the narrator. An empty result renders as "".
func (uc *MemoryUseCase) BuildNarratorContext(ctx context.Context, campaignID int64, query string, topK int) (string, error) {
	results, err := uc.SearchMemories(ctx, campaignID, query, topK)
	if err != nil {
		return "", err
	}
	return renderNarratorContext(results), nil
}

func renderNarratorContext(results []*model.ScoredMemory) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Campaign memories\n\n")
	for _, r := range results {
		m := r.Memory
		fmt.Fprintf(&sb, "- [%s] %s", m.Type.Display().Label, m.Preview())

		var where []string
		if m.SessionNumber != nil {
			where = append(where, fmt.Sprintf("session %d", *m.SessionNumber))
		}
		if m.TurnNumber != nil {
			where = append(where, fmt.Sprintf("turn %d", *m.TurnNumber))
		}
		if m.Importance > 0 {
			where = append(where, fmt.Sprintf("importance %d", m.Importance))
		}
		if len(where) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(where, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
