package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

// indexStep is one change fireconf would make to the Firestore indexes
type indexStep struct {
	Collection  string
	Operation   string
	Description string
	Destructive bool
}

// indexMigrator plans and applies an index configuration
type indexMigrator interface {
	Plan(ctx context.Context, cfg *fireconf.Config) ([]indexStep, error)
	Apply(ctx context.Context, cfg *fireconf.Config) error
}

// funcMigrator adapts a fireconf client to indexMigrator
type funcMigrator struct {
	plan  func(ctx context.Context, cfg *fireconf.Config) ([]indexStep, error)
	apply func(ctx context.Context, cfg *fireconf.Config) error
}

func (m *funcMigrator) Plan(ctx context.Context, cfg *fireconf.Config) ([]indexStep, error) {
	return m.plan(ctx, cfg)
}

func (m *funcMigrator) Apply(ctx context.Context, cfg *fireconf.Config) error {
	return m.apply(ctx, cfg)
}

func cmdMigrate() *cli.Command {
	var (
		projectID  string
		databaseID string
		dimension  int
		dryRun     bool
	)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Create the Firestore vector index used for memory search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "firestore-project-id",
				Usage:       "Firestore Project ID",
				Required:    true,
				Sources:     cli.EnvVars("LOREMIND_FIRESTORE_PROJECT_ID"),
				Destination: &projectID,
			},
			&cli.StringFlag{
				Name:        "firestore-database-id",
				Usage:       "Firestore Database ID",
				Sources:     cli.EnvVars("LOREMIND_FIRESTORE_DATABASE_ID"),
				Destination: &databaseID,
			},
			&cli.IntFlag{
				Name:        "embedding-dimension",
				Usage:       "Dimension of the memory vector index, must match the embedding provider",
				Value:       model.EmbeddingDimension,
				Sources:     cli.EnvVars("LOREMIND_EMBEDDING_DIMENSION"),
				Destination: &dimension,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "Print the planned index changes without applying them",
				Destination: &dryRun,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logging.Default().Info("Migrate configuration",
				"project_id", projectID,
				"database_id", databaseID,
				"dimension", dimension,
				"dry_run", dryRun)

			client, err := fireconf.NewClient(ctx, projectID, databaseID)
			if err != nil {
				return goerr.Wrap(err, "failed to create fireconf client")
			}
			defer safe.Close(ctx, client, "fireconf client")

			m := &funcMigrator{
				plan: func(ctx context.Context, cfg *fireconf.Config) ([]indexStep, error) {
					plan, err := client.GetMigrationPlan(ctx, cfg)
					if err != nil {
						return nil, goerr.Wrap(err, "failed to create migration plan")
					}
					steps := make([]indexStep, 0, len(plan.Steps))
					for _, s := range plan.Steps {
						steps = append(steps, indexStep{
							Collection:  fmt.Sprint(s.Collection),
							Operation:   fmt.Sprint(s.Operation),
							Description: fmt.Sprint(s.Description),
							Destructive: s.Destructive,
						})
					}
					return steps, nil
				},
				apply: func(ctx context.Context, cfg *fireconf.Config) error {
					if err := client.Migrate(ctx, cfg); err != nil {
						return goerr.Wrap(err, "failed to apply migrations")
					}
					return nil
				},
			}

			return migrateIndexes(ctx, c.Root().Writer, m, dimension, dryRun)
		},
	}
}

func migrateIndexes(ctx context.Context, w io.Writer, m indexMigrator, dimension int, dryRun bool) error {
	if dimension <= 0 {
		return goerr.Wrap(model.ErrValidation, "embedding dimension must be positive",
			goerr.V(model.DimensionKey, dimension))
	}
	cfg := memoryIndexConfig(dimension)

	steps, err := m.Plan(ctx, cfg)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		_, err := fmt.Fprintln(w, "indexes are up to date")
		return err
	}

	for _, s := range steps {
		mark := ""
		if s.Destructive {
			mark = " (destructive)"
		}
		if _, err := fmt.Fprintf(w, "%s %s: %s%s\n", s.Operation, s.Collection, s.Description, mark); err != nil {
			return err
		}
	}

	if dryRun {
		return nil
	}
	if err := m.Apply(ctx, cfg); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "applied %d index changes\n", len(steps))
	return err
}

// memoryIndexConfig describes the vector index over the per-campaign
// "memories" subcollections
func memoryIndexConfig(dimension int) *fireconf.Config {
	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name: "memories",
				Indexes: []fireconf.Index{
					{
						Fields: []fireconf.IndexField{
							{
								Path: "Embedding",
								Vector: &fireconf.VectorConfig{
									Dimension: dimension,
								},
							},
						},
					},
				},
			},
		},
	}
}
