package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/flowserve/internal/store"
	"github.com/me/flowserve/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	PollInterval time.Duration
	// Horizon is how far ahead runs are materialized.
	Horizon time.Duration
	// MaxScheduledRuns caps upcoming auto-scheduled runs per deployment.
	MaxScheduledRuns int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		Horizon:          time.Hour,
		MaxScheduledRuns: 10,
	}
}

// Loop implements the Scheduler interface. Each tick creates SCHEDULED flow
// runs for every deployment with an active schedule.
type Loop struct {
	store  store.Store
	config Config
	logger *slog.Logger
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLoop creates a new scheduler loop.
func NewLoop(st store.Store, cfg Config, logger *slog.Logger) *Loop {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.MaxScheduledRuns <= 0 {
		cfg.MaxScheduledRuns = def.MaxScheduledRuns
	}
	return &Loop{
		store:  st,
		config: cfg,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "poll_interval", l.config.PollInterval, "horizon", l.config.Horizon)
	defer close(l.doneCh)

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	if err := l.Tick(ctx); err != nil {
		l.logger.Error("tick error", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick runs a single scheduling iteration. A failing deployment is logged
// and skipped so that one bad schedule cannot starve the rest.
func (l *Loop) Tick(ctx context.Context) error {
	deps, err := l.store.ListScheduledDeployments(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled deployments: %w", err)
	}
	for _, d := range deps {
		n, err := l.materialize(ctx, d)
		if err != nil {
			l.logger.Error("materialize schedule", "deployment_id", d.ID, "name", d.FullName(), "error", err)
			continue
		}
		if n > 0 {
			l.logger.Info("scheduled flow runs", "deployment_id", d.ID, "name", d.FullName(), "count", n)
		}
	}
	return nil
}

// materialize creates the upcoming runs of one deployment and returns how many were new.
func (l *Loop) materialize(ctx context.Context, d *model.Deployment) (int, error) {
	seq, err := ParseSchedule(d.Schedule, d.CreatedAt)
	if err != nil {
		return 0, err
	}
	if seq == nil {
		return 0, nil
	}

	now := l.now().UTC()
	upcoming, err := l.store.ListFlowRuns(ctx, model.FlowRunFilter{
		DeploymentIDs: []string{d.ID},
		States:        []model.StateType{model.StateScheduled},
	})
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, fr := range upcoming {
		if fr.AutoScheduled && fr.ExpectedStartTime.After(now) {
			pending++
		}
	}
	room := l.config.MaxScheduledRuns - pending
	if room <= 0 {
		return 0, nil
	}

	// Slots up to one poll interval old still fire, so a fresh interval
	// schedule runs at its anchor.
	after := now.Add(-l.config.PollInterval)
	latest, err := l.store.LatestScheduledTime(ctx, d.ID)
	if err != nil {
		return 0, err
	}
	if latest != nil && latest.After(after) {
		after = *latest
	}

	times := NextFireTimes(seq, after, now.Add(l.config.Horizon), room)
	if len(times) == 0 && pending == 0 {
		// Always keep the next run visible, even beyond the horizon.
		if next := seq.Next(after); !next.IsZero() {
			times = []time.Time{next.UTC()}
		}
	}

	created := 0
	for _, at := range times {
		fr := &model.FlowRun{
			ID:                "run_" + uuid.New().String(),
			Name:              d.FlowName + "-" + at.Format("20060102-150405"),
			DeploymentID:      d.ID,
			FlowName:          d.FlowName,
			State:             model.State{Type: model.StateScheduled, Name: "Scheduled", Timestamp: now},
			Parameters:        d.Parameters,
			ExpectedStartTime: at,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		ok, err := l.store.CreateScheduledFlowRun(ctx, fr)
		if err != nil {
			return created, fmt.Errorf("create scheduled run at %s: %w", at.Format(time.RFC3339), err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}
