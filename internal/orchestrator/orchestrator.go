// Package orchestrator defines the contract between runners and the
// orchestration service, plus an in-process implementation of it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/me/flowserve/pkg/model"
)

// Orchestrator is the subset of the service a Runner depends on.
type Orchestrator interface {
	UpsertDeployment(ctx context.Context, spec model.DeploymentSpec) (string, error)
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)
	GetDeploymentByName(ctx context.Context, fullName string) (*model.Deployment, error)
	SetScheduleActive(ctx context.Context, id string, active bool) error

	ListFlowRuns(ctx context.Context, filter model.FlowRunFilter) ([]*model.FlowRun, error)
	CreateFlowRun(ctx context.Context, deploymentID string, create model.FlowRunCreate) (*model.FlowRun, error)
	GetFlowRun(ctx context.Context, id string) (*model.FlowRun, error)
	SetFlowRunState(ctx context.Context, id string, update model.StateUpdate) (*model.FlowRun, error)
}

// Service is the full orchestration API exposed over HTTP and the CLI.
type Service interface {
	Orchestrator

	ListDeployments(ctx context.Context, opts model.ListOptions) ([]*model.Deployment, int, error)

	SetVariable(ctx context.Context, name string, set model.VariableSet) (*model.Variable, error)
	// GetVariable returns (nil, nil) when the variable does not exist.
	GetVariable(ctx context.Context, name string) (*model.Variable, error)
	UnsetVariable(ctx context.Context, name string) (bool, error)
}

// ErrNotFound is returned (wrapped) when a deployment or flow run does not exist.
var ErrNotFound = errors.New("not found")

// TransientError marks a failure that may succeed on retry, such as a
// network error or an overloaded service.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// VariableValue returns the value of a variable, or def when it is not set.
func VariableValue(ctx context.Context, svc Service, name string, def any) (any, error) {
	v, err := svc.GetVariable(ctx, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return def, nil
	}
	return v.Value, nil
}
