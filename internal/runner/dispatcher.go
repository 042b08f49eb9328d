package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/me/flowserve/internal/flow"
	"github.com/me/flowserve/pkg/model"
)

// dispatch tracks one in-flight flow run.
type dispatch struct {
	id         string
	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newDispatch(id string) *dispatch {
	return &dispatch{id: id, cancelCh: make(chan struct{})}
}

// requestCancel asks the dispatcher to cancel its run. Safe to call repeatedly.
func (d *dispatch) requestCancel() {
	d.cancelOnce.Do(func() { close(d.cancelCh) })
}

// dispatch executes one flow run to completion and reports its final state.
// It returns the state it reported, or the run's existing terminal state when
// there was nothing to do.
func (r *Runner) dispatch(ctx context.Context, id string, d *dispatch) (model.StateType, error) {
	logger := r.logger.With("flow_run_id", id)

	var fr *model.FlowRun
	err := retry(ctx, r.config.Retry, nil, logger, "get flow run", func(ctx context.Context) error {
		var err error
		fr, err = r.svc.GetFlowRun(ctx, id)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get flow run %s: %w", id, err)
	}
	logger = logger.With("flow_run_name", fr.Name)

	switch {
	case fr.State.Type.IsTerminal():
		logger.Debug("flow run already finished", "state", fr.State.Type)
		return fr.State.Type, nil
	case fr.State.Type == model.StateCancelling:
		return r.report(ctx, logger, id, model.StateCancelled, "Cancelled before execution started")
	}

	f, deploymentName, err := r.resolveFlow(ctx, fr)
	if err != nil {
		logger.Error("cannot resolve flow", "flow_name", fr.FlowName, "error", err)
		return r.report(ctx, logger, id, model.StateFailed, err.Error())
	}

	if fr.State.Type != model.StateRunning || fr.RunnerName != r.config.Name {
		err := retry(ctx, r.config.Retry, nil, logger, "set running", func(ctx context.Context) error {
			_, err := r.svc.SetFlowRunState(ctx, id, model.StateUpdate{
				Type:       model.StateRunning,
				RunnerName: r.config.Name,
			})
			return err
		})
		if err != nil {
			var transErr *model.InvalidTransitionError
			if errors.As(err, &transErr) {
				logger.Info("flow run not startable, skipping", "from", transErr.From, "reason", transErr.Reason)
				return model.StateType(transErr.From), fmt.Errorf("%w: %s", ErrNotStartable, transErr)
			}
			return "", fmt.Errorf("set flow run %s running: %w", id, err)
		}
	}

	execCtx, cancelExec := context.WithCancel(flow.WithRunInfo(ctx, flow.RunInfo{
		FlowRunID:      fr.ID,
		FlowRunName:    fr.Name,
		DeploymentID:   fr.DeploymentID,
		DeploymentName: deploymentName,
	}))
	defer cancelExec()

	logger.Info("executing flow run", "flow", f.Name(), "deployment", deploymentName)
	start := time.Now()
	ex, err := f.Start(execCtx, fr.Parameters)
	if err != nil {
		logger.Error("flow failed to start", "error", err)
		return r.report(ctx, logger, id, model.StateFailed, err.Error())
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	remoteCancel := r.watchCancellation(watchCtx, logger, id)

	var reason string
	select {
	case <-ex.Done():
	case <-remoteCancel:
		reason = "cancellation requested by the service"
	case <-d.cancelCh:
		reason = "cancellation requested by the service"
	case <-ctx.Done():
		reason = "runner shutting down"
	}
	if ctx.Err() != nil && reason != "" {
		select {
		case <-ex.Done():
			// Finished before the shutdown reached it.
			reason = ""
		default:
		}
	}

	if reason == "" {
		err := ex.Err()
		if err == nil {
			logger.Info("flow run completed", "duration", time.Since(start))
			return r.report(ctx, logger, id, model.StateCompleted, "")
		}
		if ctx.Err() != nil {
			// The flow returned because the runner is shutting down.
			return r.report(ctx, logger, id, model.StateCancelled, "Flow run was cancelled: runner shutting down")
		}
		logger.Info("flow run failed", "duration", time.Since(start), "error", err)
		return r.report(ctx, logger, id, model.StateFailed, err.Error())
	}

	stopWatch()
	logger.Info("cancelling flow run", "reason", reason)
	cancelExec()

	grace := time.NewTimer(r.config.CancellationGracePeriod)
	defer grace.Stop()
	select {
	case <-ex.Done():
	case <-grace.C:
		logger.Warn("flow run did not stop within grace period, killing",
			"grace_period", r.config.CancellationGracePeriod)
		ex.Kill()
		<-ex.Done()
	}
	return r.report(ctx, logger, id, model.StateCancelled, "Flow run was cancelled: "+reason)
}

// resolveFlow finds the flow for fr, preferring the owned deployment handle.
func (r *Runner) resolveFlow(ctx context.Context, fr *model.FlowRun) (flow.Flow, string, error) {
	if d := r.ownedDeployment(fr.DeploymentID); d != nil {
		return d.Flow, d.FullName(), nil
	}

	name := fr.FlowName
	var dep *model.Deployment
	err := retry(ctx, r.config.Retry, nil, r.logger, "get deployment", func(ctx context.Context) error {
		var err error
		dep, err = r.svc.GetDeployment(ctx, fr.DeploymentID)
		return err
	})
	fullName := ""
	if err == nil {
		name = dep.FlowName
		fullName = dep.FullName()
	} else if name == "" {
		return nil, "", fmt.Errorf("get deployment %s: %w", fr.DeploymentID, err)
	}

	f, ok := r.flows.Get(name)
	if !ok {
		return nil, fullName, fmt.Errorf("flow %q is not registered with runner %s", name, r.config.Name)
	}
	return f, fullName, nil
}

// watchCancellation polls the run's remote state at the configured cadence
// and closes the returned channel once cancellation is requested.
func (r *Runner) watchCancellation(ctx context.Context, logger *slog.Logger, id string) <-chan struct{} {
	cancelled := make(chan struct{})
	limiter := rate.NewLimiter(rate.Every(r.config.CancellationCheckInterval), 1)

	go func() {
		// The first token is spent immediately so the first check waits a full interval.
		limiter.Allow()
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			var fr *model.FlowRun
			err := retry(ctx, r.config.Retry, nil, logger, "watch flow run", func(ctx context.Context) error {
				var err error
				fr, err = r.svc.GetFlowRun(ctx, id)
				return err
			})
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("cancellation check failed", "error", err)
				}
				continue
			}
			if fr.State.Type.IsCancelRequested() {
				close(cancelled)
				return
			}
		}
	}()
	return cancelled
}

// report sets the run's terminal state with a context that outlives ctx's
// cancellation, retrying transient errors.
func (r *Runner) report(ctx context.Context, logger *slog.Logger, id string, state model.StateType, message string) (model.StateType, error) {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.FinalReportTimeout)
	defer cancel()

	err := retry(reportCtx, r.config.Retry, nil, logger, "report final state", func(ctx context.Context) error {
		_, err := r.svc.SetFlowRunState(ctx, id, model.StateUpdate{
			Type:       state,
			Message:    message,
			RunnerName: r.config.Name,
		})
		return err
	})
	if err != nil {
		var transErr *model.InvalidTransitionError
		if errors.As(err, &transErr) {
			logger.Warn("final state rejected", "state", state, "current", transErr.From)
			return model.StateType(transErr.From), nil
		}
		return state, fmt.Errorf("report %s for flow run %s: %w", state, id, err)
	}
	logger.Debug("final state reported", "state", state)
	return state, nil
}
