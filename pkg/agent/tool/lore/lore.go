package lore

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/loremind/pkg/agent/tool"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/usecase"
)

// MemoryUseCase is the subset of the memory use case the narrator tools call
type MemoryUseCase interface {
	AddMemory(ctx context.Context, input usecase.AddMemoryInput) (*model.Memory, error)
	SearchMemories(ctx context.Context, campaignID int64, query string, topK int) ([]*model.ScoredMemory, error)
	GetMemoryCount(ctx context.Context, campaignID int64) (int, error)
	DeleteMemory(ctx context.Context, campaignID int64, memoryID model.MemoryID) error
	UpdateMemoryImportance(ctx context.Context, campaignID int64, memoryID model.MemoryID, importance int) error
}

// New builds the memory tools a narrator agent uses for one campaign
func New(uc MemoryUseCase, campaignID int64) []gollem.Tool {
	return []gollem.Tool{
		&recallTool{uc: uc, campaignID: campaignID},
		&rememberTool{uc: uc, campaignID: campaignID},
		&forgetTool{uc: uc, campaignID: campaignID},
		&setImportanceTool{uc: uc, campaignID: campaignID},
		&countTool{uc: uc, campaignID: campaignID},
	}
}

type recallTool struct {
	uc         MemoryUseCase
	campaignID int64
}

func (t *recallTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        "lore__recall",
		Description: "Recall campaign memories related to a query. Results are ordered by relevance score (0-100) and carry the session and turn they came from.",
		Parameters: map[string]*gollem.Parameter{
			"query": {
				Type:        gollem.TypeString,
				Description: "What to remember, e.g. a character, place or past event",
				Required:    true,
			},
			"limit": {
				Type:        gollem.TypeInteger,
				Description: "Maximum number of memories to return (default: recall policy)",
				Required:    false,
			},
		},
	}
}

func (t *recallTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	var limit int
	if v, err := extractInt(args, "limit"); err == nil && v > 0 {
		limit = v
	}

	tool.Progress(ctx, "Recalling: %s", query)

	results, err := t.uc.SearchMemories(ctx, t.campaignID, query, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to recall memories",
			goerr.V(model.CampaignIDKey, t.campaignID))
	}

	items := make([]map[string]any, len(results))
	for i, r := range results {
		item := memoryToMap(r.Memory)
		item["score"] = r.Score
		items[i] = item
	}
	return map[string]any{"memories": items, "count": len(items)}, nil
}

type rememberTool struct {
	uc         MemoryUseCase
	campaignID int64
}

func (t *rememberTool) Spec() gollem.ToolSpec {
	all := types.AllMemoryTypes()
	enum := make([]string, len(all))
	for i, v := range all {
		enum[i] = v.String()
	}

	return gollem.ToolSpec{
		Name:        "lore__remember",
		Description: "Store a new campaign memory. Use it for facts the story must not forget: promises, reveals, names and consequences.",
		Parameters: map[string]*gollem.Parameter{
			"content": {
				Type:        gollem.TypeString,
				Description: "The fact or event to remember",
				Required:    true,
			},
			"type": {
				Type:        gollem.TypeString,
				Description: "Kind of memory (default: plot_point)",
				Required:    false,
				Enum:        enum,
			},
			"importance": {
				Type:        gollem.TypeInteger,
				Description: "Retrieval weight from 0 to 10 (default: 0)",
				Required:    false,
			},
			"tags": {
				Type:        gollem.TypeArray,
				Description: "Names of characters, places or items involved",
				Required:    false,
				Items: &gollem.Parameter{
					Type: gollem.TypeString,
				},
			},
		},
	}
}

func (t *rememberTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}

	memType := types.MemoryTypePlotPoint
	if s, ok := args["type"].(string); ok && s != "" {
		memType = types.ParseMemoryType(s)
	}

	var importance int
	if _, ok := args["importance"]; ok {
		v, err := extractInt(args, "importance")
		if err != nil {
			return nil, err
		}
		importance = v
	}

	var tags []string
	if raw, ok := args["tags"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	tool.Progress(ctx, "Remembering...")

	created, err := t.uc.AddMemory(ctx, usecase.AddMemoryInput{
		CampaignID: t.campaignID,
		Type:       memType,
		Content:    content,
		Tags:       tags,
		Importance: types.Importance(importance),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to remember",
			goerr.V(model.CampaignIDKey, t.campaignID))
	}
	return memoryToMap(created), nil
}

type forgetTool struct {
	uc         MemoryUseCase
	campaignID int64
}

func (t *forgetTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        "lore__forget",
		Description: "Delete a campaign memory that turned out to be wrong or retconned",
		Parameters: map[string]*gollem.Parameter{
			"memory_id": {
				Type:        gollem.TypeString,
				Description: "ID of the memory to delete",
				Required:    true,
			},
		},
	}
}

func (t *forgetTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	memoryID, _ := args["memory_id"].(string)
	if memoryID == "" {
		return nil, fmt.Errorf("memory_id is required")
	}

	tool.Progress(ctx, "Forgetting memory %s...", memoryID)

	if err := t.uc.DeleteMemory(ctx, t.campaignID, model.MemoryID(memoryID)); err != nil {
		return nil, goerr.Wrap(err, "failed to forget memory",
			goerr.V(model.MemoryIDKey, memoryID))
	}
	return map[string]any{"deleted": true}, nil
}

type setImportanceTool struct {
	uc         MemoryUseCase
	campaignID int64
}

func (t *setImportanceTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        "lore__set_importance",
		Description: "Set how strongly a memory is preferred when relevance scores tie (0 to 10)",
		Parameters: map[string]*gollem.Parameter{
			"memory_id": {
				Type:        gollem.TypeString,
				Description: "ID of the memory",
				Required:    true,
			},
			"importance": {
				Type:        gollem.TypeInteger,
				Description: "New importance from 0 to 10",
				Required:    true,
			},
		},
	}
}

func (t *setImportanceTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	memoryID, _ := args["memory_id"].(string)
	if memoryID == "" {
		return nil, fmt.Errorf("memory_id is required")
	}
	importance, err := extractInt(args, "importance")
	if err != nil {
		return nil, err
	}

	tool.Progress(ctx, "Setting importance of %s to %d", memoryID, importance)

	if err := t.uc.UpdateMemoryImportance(ctx, t.campaignID, model.MemoryID(memoryID), importance); err != nil {
		return nil, goerr.Wrap(err, "failed to update importance",
			goerr.V(model.MemoryIDKey, memoryID))
	}
	return map[string]any{"id": memoryID, "importance": importance}, nil
}

type countTool struct {
	uc         MemoryUseCase
	campaignID int64
}

func (t *countTool) Spec() gollem.ToolSpec {
	return gollem.ToolSpec{
		Name:        "lore__count",
		Description: "Count the memories stored for this campaign",
		Parameters:  map[string]*gollem.Parameter{},
	}
}

func (t *countTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	count, err := t.uc.GetMemoryCount(ctx, t.campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count memories",
			goerr.V(model.CampaignIDKey, t.campaignID))
	}
	return map[string]any{"count": count}, nil
}

func memoryToMap(m *model.Memory) map[string]any {
	item := map[string]any{
		"id":         m.ID.String(),
		"type":       m.Type.String(),
		"content":    m.Content,
		"importance": m.Importance.Int(),
		"created_at": m.CreatedAt.String(),
	}
	if m.Summary != "" {
		item["summary"] = m.Summary
	}
	if m.SessionNumber != nil {
		item["session"] = *m.SessionNumber
	}
	if m.TurnNumber != nil {
		item["turn"] = *m.TurnNumber
	}
	if len(m.Tags) > 0 {
		item["tags"] = m.Tags
	}
	return item
}

// extractInt reads an integer argument. JSON numbers arrive as float64.
func extractInt(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}
