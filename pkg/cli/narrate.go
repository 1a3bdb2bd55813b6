package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/agent"
	"github.com/secmon-lab/loremind/pkg/agent/tool"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdNarrate() *cli.Command {
	var (
		campaignID int64
		session    int
		turn       int
		record     bool
		verbose    bool
		memCfg     memoryConfig
	)

	flags := []cli.Flag{
		&cli.Int64Flag{
			Name:        "campaign",
			Aliases:     []string{"c"},
			Usage:       "Campaign ID",
			Required:    true,
			Sources:     cli.EnvVars("LOREMIND_CAMPAIGN"),
			Destination: &campaignID,
		},
		&cli.IntFlag{
			Name:        "session",
			Usage:       "Session number of the turn, 0 leaves it unset",
			Destination: &session,
		},
		&cli.IntFlag{
			Name:        "turn",
			Usage:       "Turn number within the session, 0 leaves it unset",
			Destination: &turn,
		},
		&cli.BoolFlag{
			Name:        "record",
			Usage:       "Store the prompt and the narration as campaign memories",
			Value:       true,
			Sources:     cli.EnvVars("LOREMIND_NARRATE_RECORD"),
			Destination: &record,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "Show tool calls made by the narrator",
			Destination: &verbose,
		},
	}
	flags = append(flags, memCfg.Flags()...)

	return &cli.Command{
		Name:      "narrate",
		Usage:     "Answer a player prompt with a Gemini narrator backed by campaign memory",
		ArgsUsage: "<prompt>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			prompt := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(prompt) == "" {
				return goerr.New("prompt is required")
			}

			llmClient, err := memCfg.embedding.GeminiClient(ctx)
			if err != nil {
				return err
			}

			repo, uc, err := memCfg.configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo, "repository")

			w := c.Root().Writer
			if verbose {
				trace := color.New(color.Faint)
				ctx = tool.WithProgress(ctx, func(_ context.Context, msg string) {
					_, _ = trace.Fprintln(w, msg)
				})
			}

			input := agent.NarrateInput{
				CampaignID: campaignID,
				Prompt:     prompt,
			}
			if session > 0 {
				input.SessionNumber = model.IntPtr(session)
			}
			if turn > 0 {
				input.TurnNumber = model.IntPtr(turn)
			}

			narrator := agent.NewNarrator(llmClient, uc, agent.WithRecordTurns(record))
			narration, err := narrator.Narrate(ctx, input)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(w, narration)
			return err
		},
	}
}
