package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/cli/config"
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"
	"github.com/secmon-lab/loremind/pkg/usecase"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

// memoryConfig groups the flags every memory command needs
type memoryConfig struct {
	repo      config.Repository
	embedding config.Embedding
	recall    config.Recall
}

func (x *memoryConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, x.repo.Flags()...)
	flags = append(flags, x.embedding.Flags()...)
	flags = append(flags, x.recall.Flags()...)
	return flags
}

// configure builds the repository and use cases. The caller closes the
// returned repository.
func (x *memoryConfig) configure(ctx context.Context) (interfaces.Repository, *usecase.UseCases, error) {
	logging.Default().Info("Memory configuration",
		"repository", x.repo,
		"embedding", x.embedding,
		"recall", x.recall)

	emb, sum, err := x.embedding.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure embedding")
	}

	opts, err := x.recall.Options()
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to configure recall")
	}
	opts = append(opts, usecase.WithSummarizer(sum))

	repo, err := x.repo.Configure(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to initialize repository")
	}

	uc, err := usecase.New(repo, emb, opts...)
	if err != nil {
		safe.Close(ctx, repo, "repository")
		return nil, nil, goerr.Wrap(err, "failed to initialize use cases")
	}

	return repo, uc, nil
}
