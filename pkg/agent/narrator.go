package agent

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/loremind/pkg/agent/tool"
	"github.com/secmon-lab/loremind/pkg/agent/tool/lore"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/usecase"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

//go:embed prompt/narrator_system.md
var narratorSystemPromptTmpl string

var narratorSystemPrompt = template.Must(template.New("narrator_system").Parse(narratorSystemPromptTmpl))

// NarrateInput is one player prompt to be answered by the narrator
type NarrateInput struct {
	CampaignID    int64
	SessionNumber *int
	TurnNumber    *int
	Prompt        string
}

// Narrator runs an LLM agent that answers player prompts with access to the
// campaign's long-term memory
type Narrator struct {
	llmClient gollem.LLMClient
	uc        *usecase.UseCases
	record    bool
}

// NarratorOption configures a Narrator
type NarratorOption func(*Narrator)

// WithRecordTurns stores the player prompt and the narration as turns
func WithRecordTurns(record bool) NarratorOption {
	return func(n *Narrator) {
		n.record = record
	}
}

// NewNarrator creates a Narrator
func NewNarrator(llmClient gollem.LLMClient, uc *usecase.UseCases, opts ...NarratorOption) *Narrator {
	n := &Narrator{
		llmClient: llmClient,
		uc:        uc,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Narrate answers input.Prompt and returns the narration text
func (n *Narrator) Narrate(ctx context.Context, input NarrateInput) (string, error) {
	if input.CampaignID <= 0 {
		return "", goerr.Wrap(model.ErrValidation, "campaign ID must be positive",
			goerr.V(model.CampaignIDKey, input.CampaignID))
	}
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return "", goerr.Wrap(model.ErrValidation, "prompt is required",
			goerr.V(model.CampaignIDKey, input.CampaignID))
	}

	logger := logging.From(ctx).With("campaign_id", input.CampaignID)

	recalled, err := n.uc.Memory.BuildNarratorContext(ctx, input.CampaignID, prompt, 0)
	if err != nil {
		return "", goerr.Wrap(err, "failed to recall memories for prompt")
	}

	systemPrompt, err := buildSystemPrompt(input.CampaignID, recalled)
	if err != nil {
		return "", err
	}

	agent := gollem.New(n.llmClient,
		gollem.WithSystemPrompt(systemPrompt),
		gollem.WithTools(lore.New(n.uc.Memory, input.CampaignID)...),
		gollem.WithToolMiddleware(
			func(next gollem.ToolHandler) gollem.ToolHandler {
				return func(ctx context.Context, req *gollem.ToolExecRequest) (*gollem.ToolExecResponse, error) {
					tool.Progress(ctx, "tool: %s", req.Tool.Name)
					resp, err := next(ctx, req)
					if resp != nil && resp.Error != nil {
						logger.Warn("narrator tool failed",
							"tool", req.Tool.Name,
							"error", resp.Error.Error())
					}
					return resp, err
				}
			},
		),
	)

	resp, err := agent.Execute(ctx, gollem.Text(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to execute narrator agent",
			goerr.V(model.CampaignIDKey, input.CampaignID))
	}
	if resp == nil {
		return "", goerr.New("narrator returned no response",
			goerr.V(model.CampaignIDKey, input.CampaignID))
	}
	narration := strings.Join(resp.Texts, "\n")

	if n.record {
		n.uc.Ingest.RecordTurn(ctx, usecase.TurnInput{
			CampaignID:    input.CampaignID,
			SessionNumber: input.SessionNumber,
			TurnNumber:    input.TurnNumber,
			Kind:          types.TurnKindAction,
			Text:          prompt,
		})
		n.uc.Ingest.RecordTurn(ctx, usecase.TurnInput{
			CampaignID:    input.CampaignID,
			SessionNumber: input.SessionNumber,
			TurnNumber:    input.TurnNumber,
			Kind:          types.TurnKindNarration,
			Text:          narration,
		})
	}

	return narration, nil
}

type narratorPromptData struct {
	CampaignID int64
	Recalled   string
}

func buildSystemPrompt(campaignID int64, recalled string) (string, error) {
	var buf bytes.Buffer
	if err := narratorSystemPrompt.Execute(&buf, narratorPromptData{
		CampaignID: campaignID,
		Recalled:   recalled,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute narrator system prompt template")
	}
	return buf.String(), nil
}
