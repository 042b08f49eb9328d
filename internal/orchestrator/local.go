package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/me/flowserve/internal/store"
	"github.com/me/flowserve/pkg/model"
)

// maxStateAttempts bounds compare-and-swap retries when state writes race.
const maxStateAttempts = 5

// Local implements Service directly over a Store.
type Local struct {
	store  store.Store
	logger *slog.Logger
}

var _ Service = (*Local)(nil)

// NewLocal creates an in-process orchestration service.
func NewLocal(st store.Store, logger *slog.Logger) *Local {
	return &Local{
		store:  st,
		logger: logger.With("component", "orchestrator"),
	}
}

// UpsertDeployment creates the deployment named spec.FlowName/spec.Name, or
// updates its schedule, parameters, description and tags. The schedule's
// active flag is never changed here.
func (l *Local) UpsertDeployment(ctx context.Context, spec model.DeploymentSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	existing, err := l.store.GetDeploymentByName(ctx, spec.FlowName, spec.Name)
	if err != nil {
		return "", fmt.Errorf("get deployment %s: %w", model.DeploymentFullName(spec.FlowName, spec.Name), err)
	}

	now := time.Now().UTC()
	if existing == nil {
		d := &model.Deployment{
			ID:          "dep_" + uuid.New().String(),
			Name:        spec.Name,
			FlowName:    spec.FlowName,
			Schedule:    spec.Schedule,
			Parameters:  spec.Parameters,
			Description: spec.Description,
			Tags:        spec.Tags,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := l.store.CreateDeployment(ctx, d); err != nil {
			return "", fmt.Errorf("create deployment: %w", err)
		}
		l.logger.Info("deployment created", "deployment_id", d.ID, "name", d.FullName(), "schedule", d.Schedule.String())
		return d.ID, nil
	}

	scheduleChanged := !existing.Schedule.Equal(spec.Schedule)
	existing.Schedule = spec.Schedule
	existing.Parameters = spec.Parameters
	existing.Description = spec.Description
	existing.Tags = spec.Tags
	existing.UpdatedAt = now
	if err := l.store.UpdateDeployment(ctx, existing); err != nil {
		return "", fmt.Errorf("update deployment: %w", err)
	}
	if scheduleChanged {
		// Slots of the old schedule are no longer valid.
		n, err := l.store.DeleteScheduledFlowRuns(ctx, existing.ID)
		if err != nil {
			return "", fmt.Errorf("clear scheduled runs: %w", err)
		}
		l.logger.Info("deployment schedule changed", "deployment_id", existing.ID,
			"schedule", existing.Schedule.String(), "cleared_runs", n)
	}
	l.logger.Debug("deployment updated", "deployment_id", existing.ID, "name", existing.FullName())
	return existing.ID, nil
}

func (l *Local) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	d, err := l.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (l *Local) GetDeploymentByName(ctx context.Context, fullName string) (*model.Deployment, error) {
	flowName, name, ok := model.SplitDeploymentFullName(fullName)
	if !ok {
		return nil, model.NewValidationError("invalid deployment name",
			model.FieldError{Field: "name", Message: "expected {flow}/{name}"})
	}
	d, err := l.store.GetDeploymentByName(ctx, flowName, name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("deployment %s: %w", fullName, ErrNotFound)
	}
	return d, nil
}

func (l *Local) ListDeployments(ctx context.Context, opts model.ListOptions) ([]*model.Deployment, int, error) {
	return l.store.ListDeployments(ctx, opts)
}

// SetScheduleActive toggles the deployment's schedule. Pausing also removes
// auto-scheduled runs that have not started yet.
func (l *Local) SetScheduleActive(ctx context.Context, id string, active bool) error {
	d, err := l.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	if d.IsScheduleActive != active {
		d.IsScheduleActive = active
		d.UpdatedAt = time.Now().UTC()
		if err := l.store.UpdateDeployment(ctx, d); err != nil {
			return fmt.Errorf("update deployment: %w", err)
		}
	}
	if !active {
		n, err := l.store.DeleteScheduledFlowRuns(ctx, id)
		if err != nil {
			return fmt.Errorf("clear scheduled runs: %w", err)
		}
		if n > 0 {
			l.logger.Debug("cleared scheduled runs", "deployment_id", id, "count", n)
		}
	}
	l.logger.Info("schedule toggled", "deployment_id", id, "name", d.FullName(), "active", active)
	return nil
}

func (l *Local) ListFlowRuns(ctx context.Context, filter model.FlowRunFilter) ([]*model.FlowRun, error) {
	return l.store.ListFlowRuns(ctx, filter)
}

// CreateFlowRun creates a manual run of a deployment. Parameters are merged
// over the deployment's defaults.
func (l *Local) CreateFlowRun(ctx context.Context, deploymentID string, create model.FlowRunCreate) (*model.FlowRun, error) {
	d, err := l.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	stateType := create.State
	if stateType == "" {
		stateType = model.StateScheduled
	}
	if !stateType.Valid() || stateType.IsTerminal() {
		return nil, model.NewValidationError("invalid initial state",
			model.FieldError{Field: "state", Message: fmt.Sprintf("cannot create a run in state %q", stateType)})
	}

	now := time.Now().UTC()
	fr := &model.FlowRun{
		ID:                "run_" + uuid.New().String(),
		Name:              create.Name,
		DeploymentID:      d.ID,
		FlowName:          d.FlowName,
		State:             model.State{Type: stateType, Name: model.DefaultStateName(stateType), Timestamp: now},
		Parameters:        mergeParams(d.Parameters, create.Parameters),
		ExpectedStartTime: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if create.ExpectedStartTime != nil {
		fr.ExpectedStartTime = create.ExpectedStartTime.UTC()
	}
	if fr.Name == "" {
		fr.Name = RunName(d.FlowName)
	}
	if stateType == model.StateRunning {
		fr.StartTime = &now
	}

	if err := l.store.CreateFlowRun(ctx, fr); err != nil {
		return nil, fmt.Errorf("create flow run: %w", err)
	}
	l.logger.Info("flow run created", "flow_run_id", fr.ID, "deployment", d.FullName(), "state", stateType)
	return fr, nil
}

func (l *Local) GetFlowRun(ctx context.Context, id string) (*model.FlowRun, error) {
	fr, err := l.store.GetFlowRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if fr == nil {
		return nil, fmt.Errorf("flow run %s: %w", id, ErrNotFound)
	}
	return fr, nil
}

// SetFlowRunState applies update if the transition table allows it. Writing
// the current state again is a no-op that returns the stored run, except that
// RUNNING is owned by one runner: another runner writing RUNNING gets an
// *model.InvalidTransitionError, and a RUNNING run without a runner is claimed
// by the first runner to write it.
func (l *Local) SetFlowRunState(ctx context.Context, id string, update model.StateUpdate) (*model.FlowRun, error) {
	if !update.Type.Valid() {
		return nil, model.NewValidationError("invalid state",
			model.FieldError{Field: "type", Message: fmt.Sprintf("unknown state %q", update.Type)})
	}

	for attempt := 0; attempt < maxStateAttempts; attempt++ {
		fr, err := l.GetFlowRun(ctx, id)
		if err != nil {
			return nil, err
		}
		from := fr.State.Type
		if from == model.StateRunning && update.Type == model.StateRunning &&
			update.RunnerName != "" && fr.RunnerName != "" && fr.RunnerName != update.RunnerName {
			return nil, &model.InvalidTransitionError{
				Entity: "FlowRun", ID: id, From: string(from), To: string(update.Type),
				Reason: "already running on " + fr.RunnerName,
			}
		}
		claim := from == model.StateRunning && update.Type == model.StateRunning &&
			update.RunnerName != "" && fr.RunnerName == ""
		if from == update.Type && !claim {
			return fr, nil
		}
		if !claim && !from.CanTransitionTo(update.Type) {
			return nil, &model.InvalidTransitionError{
				Entity: "FlowRun", ID: id, From: string(from), To: string(update.Type),
			}
		}

		now := time.Now().UTC()
		name := update.Name
		if name == "" {
			name = model.DefaultStateName(update.Type)
		}
		fr.State = model.State{Type: update.Type, Name: name, Message: update.Message, Timestamp: now}
		fr.UpdatedAt = now
		if update.RunnerName != "" {
			fr.RunnerName = update.RunnerName
		}
		if update.Type == model.StateRunning && fr.StartTime == nil {
			fr.StartTime = &now
		}
		if update.Type.IsTerminal() {
			fr.EndTime = &now
		}

		ok, err := l.store.UpdateFlowRunState(ctx, fr, from)
		if err != nil {
			return nil, fmt.Errorf("update flow run state: %w", err)
		}
		if ok {
			l.logger.Info("flow run state changed", "flow_run_id", id, "from", from, "to", update.Type)
			return fr, nil
		}
		l.logger.Debug("flow run state changed concurrently, retrying", "flow_run_id", id, "attempt", attempt+1)
	}
	return nil, model.NewConflictError(fmt.Sprintf("flow run %s: state changed concurrently", id))
}

// SetVariable creates a variable, or overwrites it when set.Overwrite is true.
func (l *Local) SetVariable(ctx context.Context, name string, set model.VariableSet) (*model.Variable, error) {
	if err := model.ValidateVariableName(name); err != nil {
		return nil, err
	}
	existing, err := l.store.GetVariable(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil && !set.Overwrite {
		return nil, model.NewConflictError(fmt.Sprintf(
			"Variable %q already exists. Use overwrite=True to update it.", name))
	}

	now := time.Now().UTC()
	v := &model.Variable{Name: name, Value: set.Value, Tags: set.Tags, CreatedAt: now, UpdatedAt: now}
	if existing != nil {
		v.CreatedAt = existing.CreatedAt
	}
	if err := l.store.PutVariable(ctx, v); err != nil {
		return nil, fmt.Errorf("put variable: %w", err)
	}
	return v, nil
}

func (l *Local) GetVariable(ctx context.Context, name string) (*model.Variable, error) {
	return l.store.GetVariable(ctx, name)
}

func (l *Local) UnsetVariable(ctx context.Context, name string) (bool, error) {
	return l.store.DeleteVariable(ctx, name)
}

// RunName generates a readable flow run name for flowName.
func RunName(flowName string) string {
	return flowName + "-" + uuid.New().String()[:8]
}

func mergeParams(defaults, overrides map[string]any) map[string]any {
	if len(defaults) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]any, len(defaults)+len(overrides))
	maps.Copy(out, defaults)
	maps.Copy(out, overrides)
	return out
}
