package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployment_FullName(t *testing.T) {
	d := &Deployment{Name: "test_runner", FlowName: "dummy-flow-1"}
	assert.Equal(t, "dummy-flow-1/test_runner", d.FullName())
}

func TestSplitDeploymentFullName(t *testing.T) {
	flow, name, ok := SplitDeploymentFullName("tired-flow/test")
	require.True(t, ok)
	assert.Equal(t, "tired-flow", flow)
	assert.Equal(t, "test", name)

	_, _, ok = SplitDeploymentFullName("no-slash")
	assert.False(t, ok)
	_, _, ok = SplitDeploymentFullName("/name")
	assert.False(t, ok)
}

func TestDeploymentSpec_Validate(t *testing.T) {
	require.NoError(t, DeploymentSpec{Name: "prod", FlowName: "etl"}.Validate())

	err := DeploymentSpec{Name: "", FlowName: ""}.Validate()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrValidation, apiErr.Code)
	assert.Len(t, apiErr.Details, 2)

	require.Error(t, DeploymentSpec{Name: "a/b", FlowName: "etl"}.Validate())

	bad := DeploymentSpec{Name: "prod", FlowName: "etl", Schedule: ScheduleSpec{Cron: "x", RRule: "y"}}
	var cfgErr *ConfigurationError
	require.ErrorAs(t, bad.Validate(), &cfgErr)
}

func TestValidateVariableName(t *testing.T) {
	require.NoError(t, ValidateVariableName("my_var-1"))
	require.Error(t, ValidateVariableName("My Var"))
	require.Error(t, ValidateVariableName(""))
}
