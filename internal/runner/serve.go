package runner

import (
	"context"
	"log/slog"

	"github.com/me/flowserve/internal/orchestrator"
)

// Serve registers deployments with a new Runner and runs it until ctx is
// cancelled. Registration errors, such as a *model.ConfigurationError, are
// returned before the loop starts. Serve returns nil on cancellation.
func Serve(ctx context.Context, svc orchestrator.Orchestrator, deployments []*Deployment, opts ...Option) error {
	o := serveOptions{config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	r := New(svc, o.config, o.logger)
	names := make([]string, 0, len(deployments))
	for _, d := range deployments {
		if _, err := r.AddDeployment(ctx, d); err != nil {
			return err
		}
		names = append(names, d.FullName())
	}

	o.logger.Info("serving deployments; polling for scheduled runs", "runner", r.Name(), "deployments", names)
	return r.Start(ctx)
}
