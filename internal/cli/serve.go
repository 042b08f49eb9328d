package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/me/flowserve/internal/config"
	"github.com/me/flowserve/internal/manifest"
	"github.com/me/flowserve/internal/runner"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <manifest.yaml>",
		Short: "Serve the deployments of a manifest until interrupted",
		Long: "Registers every deployment in the manifest, activates their schedules and " +
			"executes their flow runs. With --server the runner polls a remote flowserve " +
			"server; otherwise it uses a local database and materializes schedules itself.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, deps)
		},
	}
	f := cmd.Flags()
	f.String("name", "", "Runner name (default runner-<hostname>)")
	f.Duration("poll-interval", config.Default().Runner.PollInterval, "Time between polls for due flow runs")
	f.Int("max-concurrency", 0, "Maximum simultaneous flow runs (0 for unlimited)")
	f.Duration("grace-period", config.Default().Runner.CancellationGracePeriod, "Time a cancelled flow run gets before it is killed")
	f.String("db", config.DefaultServerConfig().DBPath, "SQLite database path when no --server is given")
	configFlag(f, "name", "runner.name")
	configFlag(f, "poll-interval", "runner.poll_interval")
	configFlag(f, "max-concurrency", "runner.max_concurrency")
	configFlag(f, "grace-period", "runner.cancellation_grace_period")
	configFlag(f, "db", "server.db_path")
	return cmd
}

func runnerConfig(c *config.Config) runner.Config {
	return runner.Config{
		Name:                      c.Runner.Name,
		PollInterval:              c.Runner.PollInterval,
		MaxConcurrency:            c.Runner.MaxConcurrency,
		CancellationGracePeriod:   c.Runner.CancellationGracePeriod,
		CancellationCheckInterval: c.Runner.CancellationCheckInterval,
		Prefetch:                  c.Runner.Prefetch,
		FinalReportTimeout:        runner.DefaultConfig().FinalReportTimeout,
		Retry:                     runner.DefaultRetryConfig(),
	}
}

func runServe(ctx context.Context, c *config.Config, deps []*runner.Deployment) error {
	opts := []runner.Option{runner.WithConfig(runnerConfig(c)), runner.WithLogger(logger)}

	if c.Runner.APIURL != "" {
		logger.Info("serving against remote server", "url", c.Runner.APIURL)
		return runner.Serve(ctx, api, deps, opts...)
	}

	st, svc, err := openLocal(ctx, c)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := newScheduler(st, c)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runScheduler(gctx, sched)
	})
	g.Go(func() error {
		if err := runner.Serve(gctx, svc, deps, opts...); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	return g.Wait()
}
