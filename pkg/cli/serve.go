package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/cli/config"
	httpctrl "github.com/secmon-lab/loremind/pkg/controller/http"
	"github.com/secmon-lab/loremind/pkg/service/worker"
	"github.com/secmon-lab/loremind/pkg/utils/async"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var syncCampaigns []int64
	var syncInterval time.Duration
	var memCfg memoryConfig
	var contextCfg config.ContextSource

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("LOREMIND_ADDR"),
			Destination: &addr,
		},
		&cli.Int64SliceFlag{
			Name:        "sync-campaign",
			Usage:       "Campaign ID whose context file is re-synced periodically (repeatable)",
			Category:    "Context sync",
			Sources:     cli.EnvVars("LOREMIND_SYNC_CAMPAIGN"),
			Destination: &syncCampaigns,
		},
		&cli.DurationFlag{
			Name:        "sync-interval",
			Usage:       "Interval of the periodic context re-sync",
			Category:    "Context sync",
			Value:       10 * time.Minute,
			Sources:     cli.EnvVars("LOREMIND_SYNC_INTERVAL"),
			Destination: &syncInterval,
		},
	}

	// Add shared config flags
	flags = append(flags, memCfg.Flags()...)
	flags = append(flags, contextCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, uc, err := memCfg.configure(ctx)
			if err != nil {
				return err
			}
			defer safe.Close(ctx, repo, "repository")

			var syncWorker *worker.ContextSyncWorker
			if len(syncCampaigns) > 0 {
				if !contextCfg.IsConfigured() {
					return goerr.New("--context-file is required with --sync-campaign")
				}
				syncWorker = worker.NewContextSyncWorker(repo, &contextCfg, uc.Memory, syncCampaigns, syncInterval)
				if err := syncWorker.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start context sync worker")
				}
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc.Memory, uc.Ingest),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			// Start server in goroutine
			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			// Wait for shutdown signal or server error
			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				if syncWorker != nil {
					syncWorker.Stop()
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				// turns accepted with ?async=true are still being ingested
				if err := async.Wait(shutdownCtx); err != nil {
					logging.Default().Warn("Pending turn ingestion abandoned", "error", err.Error())
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
