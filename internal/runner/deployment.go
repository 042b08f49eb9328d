package runner

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/me/flowserve/internal/flow"
	"github.com/me/flowserve/internal/orchestrator"
	"github.com/me/flowserve/pkg/model"
)

// Deployment is the local handle binding a flow to a schedule. ID is empty
// until the deployment has been applied to the service.
type Deployment struct {
	ID          string
	Name        string
	Flow        flow.Flow
	Schedule    model.ScheduleSpec
	Parameters  map[string]any
	Description string
	Tags        []string
}

// NewDeployment validates the schedule arguments and builds a handle.
func NewDeployment(f flow.Flow, name string, args model.ScheduleArgs) (*Deployment, error) {
	if f == nil {
		return nil, &model.ConfigurationError{Message: "deployment requires a flow"}
	}
	sched, err := model.NewScheduleSpec(args)
	if err != nil {
		return nil, err
	}
	return &Deployment{Name: name, Flow: f, Schedule: sched}, nil
}

// FlowName returns the slugged flow name.
func (d *Deployment) FlowName() string {
	return flow.Slug(d.Flow.Name())
}

// FullName returns "{flow-slug}/{name}".
func (d *Deployment) FullName() string {
	return model.DeploymentFullName(d.FlowName(), d.Name)
}

// Spec returns the upsert payload for this handle.
func (d *Deployment) Spec() model.DeploymentSpec {
	return model.DeploymentSpec{
		Name:        d.Name,
		FlowName:    d.FlowName(),
		Schedule:    d.Schedule,
		Parameters:  maps.Clone(d.Parameters),
		Description: d.Description,
		Tags:        slices.Clone(d.Tags),
	}
}

// Apply upserts the deployment with svc and records the returned id.
// Applying again updates the existing record and keeps its id.
func (d *Deployment) Apply(ctx context.Context, svc orchestrator.Orchestrator) (string, error) {
	if d.Flow == nil {
		return "", &model.ConfigurationError{Message: fmt.Sprintf("deployment %q has no flow", d.Name)}
	}
	spec := d.Spec()
	if err := spec.Validate(); err != nil {
		return "", err
	}
	id, err := svc.UpsertDeployment(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("apply deployment %s: %w", d.FullName(), err)
	}
	d.ID = id
	return id, nil
}
