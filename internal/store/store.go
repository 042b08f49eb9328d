package store

import (
	"context"
	"time"

	"github.com/me/flowserve/pkg/model"
)

// Store defines the persistence layer for flowserve entities.
// Getters return (nil, nil) when the record does not exist.
type Store interface {
	// Deployment CRUD
	CreateDeployment(ctx context.Context, d *model.Deployment) error
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)
	GetDeploymentByName(ctx context.Context, flowName, name string) (*model.Deployment, error)
	ListDeployments(ctx context.Context, opts model.ListOptions) ([]*model.Deployment, int, error)
	ListScheduledDeployments(ctx context.Context) ([]*model.Deployment, error)
	UpdateDeployment(ctx context.Context, d *model.Deployment) error

	// Flow run operations
	CreateFlowRun(ctx context.Context, fr *model.FlowRun) error
	// CreateScheduledFlowRun inserts an auto-scheduled run unless one already
	// exists for the same deployment and expected start time.
	CreateScheduledFlowRun(ctx context.Context, fr *model.FlowRun) (bool, error)
	GetFlowRun(ctx context.Context, id string) (*model.FlowRun, error)
	ListFlowRuns(ctx context.Context, filter model.FlowRunFilter) ([]*model.FlowRun, error)
	// UpdateFlowRunState writes fr only if its stored state is still from.
	UpdateFlowRunState(ctx context.Context, fr *model.FlowRun, from model.StateType) (bool, error)
	LatestScheduledTime(ctx context.Context, deploymentID string) (*time.Time, error)
	DeleteScheduledFlowRuns(ctx context.Context, deploymentID string) (int64, error)

	// Variables
	PutVariable(ctx context.Context, v *model.Variable) error
	GetVariable(ctx context.Context, name string) (*model.Variable, error)
	DeleteVariable(ctx context.Context, name string) (bool, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
