package model

import "time"

// FlowRun is one concrete execution instance of a deployment's flow.
type FlowRun struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	DeploymentID      string         `json:"deployment_id"`
	FlowName          string         `json:"flow_name"`
	State             State          `json:"state"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	RunnerName        string         `json:"runner_name,omitempty"`
	AutoScheduled     bool           `json:"auto_scheduled"`
	ExpectedStartTime time.Time      `json:"expected_start_time"`
	StartTime         *time.Time     `json:"start_time,omitempty"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// FlowRunCreate holds optional fields when creating a flow run from a deployment.
type FlowRunCreate struct {
	Name              string         `json:"name,omitempty"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	ExpectedStartTime *time.Time     `json:"expected_start_time,omitempty"`
	// State defaults to SCHEDULED.
	State StateType `json:"state,omitempty"`
}

// FlowRunFilter selects flow runs. Empty fields do not filter.
type FlowRunFilter struct {
	IDs           []string    `json:"ids,omitempty"`
	DeploymentIDs []string    `json:"deployment_ids,omitempty"`
	States        []StateType `json:"states,omitempty"`
	// ScheduledBefore keeps only runs whose expected start is at or before it.
	ScheduledBefore *time.Time `json:"scheduled_before,omitempty"`
	Limit           int        `json:"limit,omitempty"`
}
