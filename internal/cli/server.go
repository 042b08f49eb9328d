package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/me/flowserve/internal/config"
	"github.com/me/flowserve/internal/orchestrator"
	"github.com/me/flowserve/internal/scheduler"
	"github.com/me/flowserve/internal/server"
	"github.com/me/flowserve/internal/store"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the API server and schedule materializer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", config.DefaultServerConfig().Addr, "Listen address")
	cmd.Flags().String("db", config.DefaultServerConfig().DBPath, "SQLite database path (\":memory:\" for a throwaway store)")
	configFlag(cmd.Flags(), "addr", "server.addr")
	configFlag(cmd.Flags(), "db", "server.db_path")
	return cmd
}

// openLocal opens the store and returns the in-process service over it.
func openLocal(ctx context.Context, c *config.Config) (*store.SQLiteStore, *orchestrator.Local, error) {
	st, err := store.NewSQLiteStore(c.Server.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "path", c.Server.DBPath)
	return st, orchestrator.NewLocal(st, logger), nil
}

func newScheduler(st *store.SQLiteStore, c *config.Config) *scheduler.Loop {
	return scheduler.NewLoop(st, scheduler.Config{
		PollInterval:     c.Scheduler.PollInterval,
		Horizon:          c.Scheduler.Horizon,
		MaxScheduledRuns: c.Scheduler.MaxScheduledRuns,
	}, logger)
}

// runScheduler runs sched until ctx ends, treating cancellation as success.
func runScheduler(ctx context.Context, sched *scheduler.Loop) error {
	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, c *config.Config) error {
	st, svc, err := openLocal(ctx, c)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := newScheduler(st, c)
	srv := server.New(c.Server, svc, logger, server.WithScheduler(sched))
	httpServer := &http.Server{
		Addr:              c.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runScheduler(gctx, sched)
	})
	g.Go(func() error {
		logger.Info("server starting", "addr", c.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
