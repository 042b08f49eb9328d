package scheduler

import "context"

// Scheduler turns active deployment schedules into SCHEDULED flow runs.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error
}

var _ Scheduler = (*Loop)(nil)
