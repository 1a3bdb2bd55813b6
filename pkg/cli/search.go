package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdSearch() *cli.Command {
	var campaignID int64
	var topK int
	var narrator bool
	var memCfg memoryConfig

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
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "Number of memories to show, 0 uses the recall default",
			Destination: &topK,
		},
		&cli.BoolFlag{
			Name:        "narrator",
			Usage:       "Print the narrator prompt block instead of a table",
			Destination: &narrator,
		},
	}
	flags = append(flags, memCfg.Flags()...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Search campaign memories",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")

			repo, uc, err := memCfg.configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo, "repository")

			if narrator {
				block, err := uc.Memory.BuildNarratorContext(ctx, campaignID, query, topK)
				if err != nil {
					return err
				}
				_, err = io.WriteString(c.Root().Writer, block)
				return err
			}

			results, err := uc.Memory.SearchMemories(ctx, campaignID, query, topK)
			if err != nil {
				return err
			}
			return printResults(c.Root().Writer, results)
		},
	}
}

var displayColors = map[string]color.Attribute{
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
}

func printResults(w io.Writer, results []*model.ScoredMemory) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no memories found")
		return err
	}

	scoreColor := color.New(color.Bold)
	dim := color.New(color.Faint)

	for i, r := range results {
		m := r.Memory
		display := m.Type.Display()
		attr, ok := displayColors[display.Color]
		if !ok {
			attr = color.FgWhite
		}
		label := color.New(attr).Sprintf("%s %s", display.Icon, display.Label)

		if _, err := fmt.Fprintf(w, "%2d. %s  %s  importance=%d\n",
			i+1, scoreColor.Sprintf("%3d", r.Score), label, m.Importance); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "    %s\n", m.Preview()); err != nil {
			return err
		}

		meta := []string{"id=" + m.ID.String()}
		if m.SessionNumber != nil {
			meta = append(meta, fmt.Sprintf("session=%d", *m.SessionNumber))
		}
		if m.TurnNumber != nil {
			meta = append(meta, fmt.Sprintf("turn=%d", *m.TurnNumber))
		}
		if len(m.Tags) > 0 {
			meta = append(meta, "tags="+strings.Join(m.Tags, ","))
		}
		if _, err := fmt.Fprintf(w, "    %s\n", dim.Sprint(strings.Join(meta, " "))); err != nil {
			return err
		}
	}
	return nil
}
