package model

import (
	"strings"
	"time"
)

// Deployment is the service-side record of a named, schedulable unit of work.
type Deployment struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	FlowName         string         `json:"flow_name"`
	Schedule         ScheduleSpec   `json:"schedule"`
	IsScheduleActive bool           `json:"is_schedule_active"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Description      string         `json:"description,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// FullName returns the "{flow}/{name}" identifier that deployments are upserted by.
func (d *Deployment) FullName() string {
	return DeploymentFullName(d.FlowName, d.Name)
}

// DeploymentSpec is the payload of an upsert. FlowName must already be slugged.
type DeploymentSpec struct {
	Name        string         `json:"name"`
	FlowName    string         `json:"flow_name"`
	Schedule    ScheduleSpec   `json:"schedule"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

// Validate checks required fields and the schedule invariant.
func (s DeploymentSpec) Validate() error {
	var details []FieldError
	if strings.TrimSpace(s.Name) == "" {
		details = append(details, FieldError{Field: "name", Message: "required"})
	}
	if strings.TrimSpace(s.FlowName) == "" {
		details = append(details, FieldError{Field: "flow_name", Message: "required"})
	}
	if strings.Contains(s.Name, "/") {
		details = append(details, FieldError{Field: "name", Message: "must not contain '/'"})
	}
	if len(details) > 0 {
		return NewValidationError("invalid deployment", details...)
	}
	return s.Schedule.Validate()
}

// DeploymentFullName joins a flow slug and deployment name.
func DeploymentFullName(flowName, name string) string {
	return flowName + "/" + name
}

// SplitDeploymentFullName splits "{flow}/{name}". ok is false for malformed input.
func SplitDeploymentFullName(full string) (flowName, name string, ok bool) {
	flowName, name, ok = strings.Cut(full, "/")
	if !ok || flowName == "" || name == "" {
		return "", "", false
	}
	return flowName, name, true
}
