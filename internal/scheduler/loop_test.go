package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/flowserve/internal/store"
	"github.com/me/flowserve/pkg/model"
)

// testSetup creates an in-memory store and a Loop whose clock is pinned to now.
func testSetup(t *testing.T, now time.Time) (*Loop, store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	l := NewLoop(st, DefaultConfig(), logger)
	l.now = func() time.Time { return now }
	return l, st
}

func createDeployment(t *testing.T, st store.Store, id string, spec model.ScheduleSpec, active bool, created time.Time) {
	t.Helper()
	require.NoError(t, st.CreateDeployment(context.Background(), &model.Deployment{
		ID:               id,
		Name:             id,
		FlowName:         "dummy-flow",
		Schedule:         spec,
		IsScheduleActive: active,
		Parameters:       map[string]any{"source": "schedule"},
		CreatedAt:        created,
		UpdatedAt:        created,
	}))
}

func scheduledRuns(t *testing.T, st store.Store, deploymentID string) []*model.FlowRun {
	t.Helper()
	runs, err := st.ListFlowRuns(context.Background(), model.FlowRunFilter{DeploymentIDs: []string{deploymentID}})
	require.NoError(t, err)
	return runs
}

func TestTick_IntervalWithinHorizon(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := testSetup(t, now)

	spec, err := model.IntervalSchedule(10 * time.Minute)
	require.NoError(t, err)
	createDeployment(t, st, "dep_interval", spec, true, now.Add(-61*time.Minute))

	require.NoError(t, l.Tick(context.Background()))
	runs := scheduledRuns(t, st, "dep_interval")
	require.Len(t, runs, 6)
	assert.Equal(t, now.Add(9*time.Minute), runs[0].ExpectedStartTime)
	for _, fr := range runs {
		assert.True(t, fr.AutoScheduled)
		assert.Equal(t, model.StateScheduled, fr.State.Type)
		assert.Equal(t, "schedule", fr.Parameters["source"])
	}

	// Idempotent on the next tick.
	require.NoError(t, l.Tick(context.Background()))
	assert.Len(t, scheduledRuns(t, st, "dep_interval"), 6)
}

func TestTick_FreshIntervalFiresAtAnchor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := testSetup(t, now)

	spec, err := model.IntervalSchedule(time.Hour)
	require.NoError(t, err)
	createDeployment(t, st, "dep_fresh", spec, true, now.Add(-time.Second))

	require.NoError(t, l.Tick(context.Background()))
	runs := scheduledRuns(t, st, "dep_fresh")
	require.NotEmpty(t, runs)
	assert.Equal(t, now.Add(-time.Second), runs[0].ExpectedStartTime)
}

func TestTick_MaxScheduledRuns(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := testSetup(t, now)

	spec, err := model.IntervalSchedule(time.Minute)
	require.NoError(t, err)
	createDeployment(t, st, "dep_fast", spec, true, now.Add(-30*time.Second))

	require.NoError(t, l.Tick(context.Background()))
	assert.Len(t, scheduledRuns(t, st, "dep_fast"), DefaultConfig().MaxScheduledRuns)
}

func TestTick_InactiveScheduleSkipped(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := testSetup(t, now)

	spec, err := model.IntervalSchedule(time.Minute)
	require.NoError(t, err)
	createDeployment(t, st, "dep_paused", spec, false, now.Add(-time.Hour))
	createDeployment(t, st, "dep_none", model.ScheduleSpec{}, true, now.Add(-time.Hour))

	require.NoError(t, l.Tick(context.Background()))
	assert.Empty(t, scheduledRuns(t, st, "dep_paused"))
	assert.Empty(t, scheduledRuns(t, st, "dep_none"))
}

func TestTick_CronBeyondHorizonKeepsNextRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := testSetup(t, now)

	spec, err := model.CronSchedule("0 0 * * *")
	require.NoError(t, err)
	createDeployment(t, st, "dep_daily", spec, true, now.Add(-48*time.Hour))

	require.NoError(t, l.Tick(context.Background()))
	runs := scheduledRuns(t, st, "dep_daily")
	require.Len(t, runs, 1)
	assert.True(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).Equal(runs[0].ExpectedStartTime))

	require.NoError(t, l.Tick(context.Background()))
	assert.Len(t, scheduledRuns(t, st, "dep_daily"), 1)
}

func TestTick_BadScheduleDoesNotStarveOthers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := testSetup(t, now)

	createDeployment(t, st, "dep_bad", model.ScheduleSpec{Cron: "bogus"}, true, now.Add(-2*time.Hour))
	spec, err := model.IntervalSchedule(30 * time.Minute)
	require.NoError(t, err)
	createDeployment(t, st, "dep_good", spec, true, now.Add(-time.Hour))

	require.NoError(t, l.Tick(context.Background()))
	assert.Empty(t, scheduledRuns(t, st, "dep_bad"))
	assert.NotEmpty(t, scheduledRuns(t, st, "dep_good"))
}

func TestLoop_StartStop(t *testing.T) {
	now := time.Now().UTC()
	l, st := testSetup(t, now)
	spec, err := model.IntervalSchedule(time.Minute)
	require.NoError(t, err)
	createDeployment(t, st, "dep_loop", spec, true, now)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(scheduledRuns(t, st, "dep_loop")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.Stop())
	require.NoError(t, <-errCh)
}

func TestLoop_ContextCancel(t *testing.T) {
	l, _ := testSetup(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}
