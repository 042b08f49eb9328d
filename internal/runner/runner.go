// Package runner executes flow runs of locally registered deployments.
//
// A Runner owns a set of deployments, polls the orchestration service for
// their due flow runs and starts one dispatcher per run. Dispatchers report
// the run's final state and honor remote cancellation requests.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/me/flowserve/internal/flow"
	"github.com/me/flowserve/internal/orchestrator"
	"github.com/me/flowserve/pkg/model"
)

var (
	// ErrAlreadyStarted is returned by Start when the runner is not stopped.
	ErrAlreadyStarted = errors.New("runner: already started")
	// ErrNotRunning is returned by Stop when the runner is not starting or running.
	ErrNotRunning = errors.New("runner: not running")
	// ErrAlreadyInFlight is returned by ExecuteFlowRun for a run that is already being executed.
	ErrAlreadyInFlight = errors.New("runner: flow run already in flight")
	// ErrNotStartable is returned by ExecuteFlowRun when the service refuses
	// to move the run to RUNNING, for example because another runner owns it.
	ErrNotStartable = errors.New("runner: flow run not startable")
)

// shutdownTimeout bounds schedule deactivation after the Start context is cancelled.
const shutdownTimeout = 10 * time.Second

// Lifecycle is the runner's state.
type Lifecycle int

const (
	Stopped Lifecycle = iota
	Starting
	Running
	Stopping
)

func (l Lifecycle) String() string {
	switch l {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("lifecycle(%d)", int(l))
}

// Runner polls for and executes flow runs of its deployments.
type Runner struct {
	svc    orchestrator.Orchestrator
	config Config
	logger *slog.Logger
	flows  *flow.Registry
	sem    *semaphore.Weighted

	mu          sync.Mutex
	state       Lifecycle
	deployments []*Deployment
	inFlight    map[string]*dispatch
	stopCh      chan struct{}
	doneCh      chan struct{}
	completions chan string
	wg          sync.WaitGroup
}

// New creates a stopped Runner.
func New(svc orchestrator.Orchestrator, cfg Config, logger *slog.Logger) *Runner {
	cfg = cfg.withDefaults()
	r := &Runner{
		svc:         svc,
		config:      cfg,
		logger:      logger.With("component", "runner", "runner", cfg.Name),
		flows:       flow.NewRegistry(),
		inFlight:    make(map[string]*dispatch),
		completions: make(chan string),
	}
	if cfg.MaxConcurrency > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	return r
}

// Name returns the runner name recorded on the runs it executes.
func (r *Runner) Name() string { return r.config.Name }

// State returns the current lifecycle state.
func (r *Runner) State() Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// InFlight returns the ids of flow runs currently being executed.
func (r *Runner) InFlight() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.inFlight))
	for id := range r.inFlight {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Deployments returns the owned deployment handles.
func (r *Runner) Deployments() []*Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.deployments)
}

// RegisterFlow makes f executable for runs of deployments this runner does not own.
func (r *Runner) RegisterFlow(f flow.Flow) {
	r.flows.Register(f)
}

// Add builds a deployment of f named name, applies it and takes ownership of it.
// Supplying more than one of interval, cron or rrule is a *model.ConfigurationError.
func (r *Runner) Add(ctx context.Context, f flow.Flow, name string, args model.ScheduleArgs) (string, error) {
	d, err := NewDeployment(f, name, args)
	if err != nil {
		return "", err
	}
	return r.AddDeployment(ctx, d)
}

// AddDeployment applies d and takes ownership of it. If the runner is
// already running, the deployment's schedule is activated right away.
func (r *Runner) AddDeployment(ctx context.Context, d *Deployment) (string, error) {
	id, err := d.Apply(ctx, r.svc)
	if err != nil {
		return "", err
	}
	r.flows.Register(d.Flow)

	r.mu.Lock()
	if !slices.ContainsFunc(r.deployments, func(o *Deployment) bool { return o.ID == id }) {
		r.deployments = append(r.deployments, d)
	}
	running := r.state == Running
	r.mu.Unlock()

	r.logger.Info("deployment added", "deployment_id", id, "name", d.FullName(), "schedule", d.Schedule.String())
	if running {
		if err := r.svc.SetScheduleActive(ctx, id, true); err != nil {
			return id, fmt.Errorf("activate schedule of %s: %w", d.FullName(), err)
		}
	}
	return id, nil
}

// Start activates the schedules of all owned deployments and runs the
// polling loop until Stop is called or ctx is cancelled. It blocks until the
// loop exits. When ctx is cancelled, schedules are deactivated, in-flight
// runs are cancelled, and Start returns nil once they have reported.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Stopped {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = Starting
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	r.stopCh, r.doneCh = stopCh, doneCh
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		// A pending Stop marks the runner stopped once it has deactivated schedules.
		if r.state != Stopping {
			r.state = Stopped
		}
		r.mu.Unlock()
		close(doneCh)
	}()

	r.logger.Info("runner starting", "poll_interval", r.config.PollInterval,
		"max_concurrency", r.config.MaxConcurrency, "deployments", len(r.Deployments()))

	_ = r.setSchedulesActive(ctx, stopCh, true)

	r.mu.Lock()
	if r.state == Starting {
		r.state = Running
	}
	r.mu.Unlock()

	for {
		select {
		case <-stopCh:
			r.logger.Info("runner loop exiting (stop called)")
			return nil
		case <-ctx.Done():
			return r.shutdown(ctx)
		default:
		}

		r.drainCompletions()
		r.cycle(ctx, stopCh)

		timer := time.NewTimer(r.config.PollInterval)
	sleep:
		for {
			select {
			case <-timer.C:
				break sleep
			case id := <-r.completions:
				r.removeInFlight(id)
			case <-stopCh:
				timer.Stop()
				r.logger.Info("runner loop exiting (stop called)")
				return nil
			case <-ctx.Done():
				timer.Stop()
				return r.shutdown(ctx)
			}
		}
	}
}

// shutdown handles cancellation of the Start context: schedules are paused
// with a fresh context and dispatchers, which observe the same cancelled
// context, are waited for.
func (r *Runner) shutdown(ctx context.Context) error {
	r.logger.Info("runner stopping (context cancelled)")

	deactivateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	_ = r.setSchedulesActive(deactivateCtx, nil, false)

	waited := make(chan struct{})
	go func() {
		r.waitDispatchers()
		close(waited)
	}()
	for {
		select {
		case <-waited:
			return nil
		case id := <-r.completions:
			r.removeInFlight(id)
		}
	}
}

// Stop pauses the schedules of all owned deployments, then ends the polling
// loop after its current cycle. In-flight runs keep executing unless
// Config.StopWaitsForInFlight is set, in which case Stop waits for them.
// If ctx expires before the loop exits, Stop returns ctx.Err() and the runner
// finishes stopping in the background.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Starting && r.state != Running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.state = Stopping
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	r.logger.Info("runner stopping")
	if err := r.setSchedulesActive(ctx, nil, false); err != nil {
		r.logger.Warn("schedules not deactivated before loop exit, will retry", "error", err)
	}
	close(stopCh)

	select {
	case <-doneCh:
	case <-ctx.Done():
		go func() {
			<-doneCh
			finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = r.finishStop(finishCtx)
		}()
		return ctx.Err()
	}

	if err := r.finishStop(ctx); err != nil {
		return err
	}

	if r.config.StopWaitsForInFlight {
		waited := make(chan struct{})
		go func() {
			r.waitDispatchers()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// finishStop runs after the loop has exited. It deactivates the schedules
// again, undoing an activation by Start that raced the first pass, and marks
// the runner stopped.
func (r *Runner) finishStop(ctx context.Context) error {
	err := r.setSchedulesActive(ctx, nil, false)
	r.mu.Lock()
	r.state = Stopped
	r.mu.Unlock()
	return err
}

// setSchedulesActive toggles every owned schedule, retrying transient errors.
// It returns the first error that could not be retried away.
func (r *Runner) setSchedulesActive(ctx context.Context, stop <-chan struct{}, active bool) error {
	var errs []error
	for _, d := range r.Deployments() {
		if d.ID == "" {
			continue
		}
		err := retry(ctx, r.config.Retry, stop, r.logger, "set schedule active", func(ctx context.Context) error {
			return r.svc.SetScheduleActive(ctx, d.ID, active)
		})
		if err != nil {
			r.logger.Error("set schedule active", "deployment_id", d.ID, "name", d.FullName(), "active", active, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d.FullName(), err))
		}
	}
	return errors.Join(errs...)
}

// cycle runs one polling iteration: reconcile in-flight runs with their
// remote state, then dispatch newly due runs.
func (r *Runner) cycle(ctx context.Context, stop <-chan struct{}) {
	ids := r.deploymentIDs()
	if len(ids) == 0 {
		return
	}

	r.reconcile(ctx)

	before := time.Now().UTC().Add(r.config.Prefetch)
	due, err := r.svc.ListFlowRuns(ctx, model.FlowRunFilter{
		DeploymentIDs:   ids,
		States:          []model.StateType{model.StateScheduled, model.StatePending},
		ScheduledBefore: &before,
	})
	if err != nil {
		r.logCycleError("list due flow runs", err)
		return
	}

	orphans, err := r.svc.ListFlowRuns(ctx, model.FlowRunFilter{
		DeploymentIDs: ids,
		States:        []model.StateType{model.StateRunning},
	})
	if err != nil {
		r.logCycleError("list running flow runs", err)
	}
	for _, fr := range orphans {
		if fr.RunnerName == r.config.Name {
			due = append(due, fr)
		}
	}

	for _, fr := range due {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		if r.isInFlight(fr.ID) {
			continue
		}
		if r.sem != nil && !r.sem.TryAcquire(1) {
			r.logger.Debug("max concurrency reached, deferring runs", "max_concurrency", r.config.MaxConcurrency)
			return
		}
		if fr.State.Type == model.StateRunning {
			r.logger.Info("re-adopting flow run", "flow_run_id", fr.ID, "name", fr.Name)
		}
		r.startDispatch(ctx, fr.ID)
	}
}

// reconcile signals cancellation to dispatchers whose run was cancelled remotely.
func (r *Runner) reconcile(ctx context.Context) {
	ids := r.InFlight()
	if len(ids) == 0 {
		return
	}
	runs, err := r.svc.ListFlowRuns(ctx, model.FlowRunFilter{IDs: ids})
	if err != nil {
		r.logCycleError("list in-flight flow runs", err)
		return
	}
	for _, fr := range runs {
		if !fr.State.Type.IsCancelRequested() {
			continue
		}
		r.mu.Lock()
		d := r.inFlight[fr.ID]
		r.mu.Unlock()
		if d != nil {
			d.requestCancel()
		}
	}
}

func (r *Runner) logCycleError(op string, err error) {
	if orchestrator.IsTransient(err) {
		r.logger.Warn("transient error, will retry next cycle", "op", op, "error", err)
		return
	}
	r.logger.Error(op, "error", err)
}

// startDispatch claims id and executes it in a new goroutine. The semaphore
// slot, if any, must already be held.
func (r *Runner) startDispatch(ctx context.Context, id string) {
	d, ok := r.claim(id)
	if !ok {
		if r.sem != nil {
			r.sem.Release(1)
		}
		return
	}

	r.mu.Lock()
	loopDone := r.doneCh
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.sem != nil {
			defer r.sem.Release(1)
		}
		if _, err := r.dispatch(ctx, id, d); err != nil && !errors.Is(err, ErrNotStartable) {
			r.logger.Error("dispatch flow run", "flow_run_id", id, "error", err)
		}
		// Hand the removal to the loop while it runs; otherwise do it here.
		select {
		case r.completions <- id:
		case <-loopDone:
			r.removeInFlight(id)
		}
	}()
}

// ExecuteFlowRun executes one flow run synchronously, without the polling
// loop, and returns the state it reported.
func (r *Runner) ExecuteFlowRun(ctx context.Context, id string) (model.StateType, error) {
	d, ok := r.claim(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAlreadyInFlight, id)
	}
	defer r.removeInFlight(id)
	return r.dispatch(ctx, id, d)
}

func (r *Runner) claim(id string) (*dispatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inFlight[id]; exists {
		return nil, false
	}
	d := newDispatch(id)
	r.inFlight[id] = d
	return d, true
}

func (r *Runner) isInFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[id]
	return ok
}

func (r *Runner) removeInFlight(id string) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}

func (r *Runner) drainCompletions() {
	for {
		select {
		case id := <-r.completions:
			r.removeInFlight(id)
		default:
			return
		}
	}
}

func (r *Runner) waitDispatchers() {
	r.wg.Wait()
}

func (r *Runner) deploymentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.deployments))
	for _, d := range r.deployments {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// ownedDeployment returns the handle with the given id, or nil.
func (r *Runner) ownedDeployment(id string) *Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deployments {
		if d.ID == id {
			return d
		}
	}
	return nil
}
