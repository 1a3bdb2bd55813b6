package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/cli/config"
	"github.com/secmon-lab/loremind/pkg/service/worker"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdSync() *cli.Command {
	var campaignID int64
	var memCfg memoryConfig
	var contextCfg config.ContextSource

	flags := []cli.Flag{
		&cli.Int64Flag{
			Name:        "campaign",
			Aliases:     []string{"c"},
			Usage:       "Campaign ID",
			Required:    true,
			Sources:     cli.EnvVars("LOREMIND_CAMPAIGN"),
			Destination: &campaignID,
		},
	}
	flags = append(flags, contextCfg.Flags()...)
	flags = append(flags, memCfg.Flags()...)

	return &cli.Command{
		Name:  "sync",
		Usage: "Load campaign context entries and turn them into memories",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if !contextCfg.IsConfigured() {
				return goerr.New("--context-file is required")
			}

			repo, uc, err := memCfg.configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo, "repository")

			result, err := worker.Sync(ctx, repo, &contextCfg, uc.Memory, campaignID)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(c.Root().Writer, "campaign %d: %d entries, %d created, %d skipped, %d failed, %d memories\n",
				result.CampaignID, result.Total, result.Created, result.Skipped, result.Failed, result.Count)
			return err
		},
	}
}
