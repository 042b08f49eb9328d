package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Environment variables passed to command flows.
const (
	EnvParameters  = "FLOWSERVE_PARAMETERS"
	EnvFlowRunID   = "FLOWSERVE_FLOW_RUN_ID"
	EnvFlowRunName = "FLOWSERVE_FLOW_RUN_NAME"
	EnvDeployment  = "FLOWSERVE_DEPLOYMENT_NAME"
)

// CommandOptions configures a command flow.
type CommandOptions struct {
	Dir    string
	Env    []string // Extra KEY=VALUE pairs appended to the parent environment
	Stdout io.Writer
	Stderr io.Writer
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %s exited with code %d", e.Command, e.ExitCode)
}

// CommandFlow runs an OS process in its own process group.
type CommandFlow struct {
	name string
	argv []string
	opts CommandOptions
}

// Command creates a Flow that executes argv. Parameters are passed to the
// process as JSON in FLOWSERVE_PARAMETERS.
func Command(name string, argv []string, opts CommandOptions) *CommandFlow {
	return &CommandFlow{name: name, argv: argv, opts: opts}
}

func (f *CommandFlow) Name() string { return f.name }

// Argv returns the command line.
func (f *CommandFlow) Argv() []string { return f.argv }

func (f *CommandFlow) Start(ctx context.Context, params map[string]any) (*Execution, error) {
	if len(f.argv) == 0 {
		return nil, fmt.Errorf("flow %s: empty command", f.name)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("flow %s: marshal parameters: %w", f.name, err)
	}

	cmd := exec.CommandContext(ctx, f.argv[0], f.argv[1:]...)
	cmd.Dir = f.opts.Dir
	cmd.Env = append(os.Environ(), f.opts.Env...)
	cmd.Env = append(cmd.Env, EnvParameters+"="+string(paramsJSON))
	if info, ok := RunInfoFromContext(ctx); ok {
		cmd.Env = append(cmd.Env,
			EnvFlowRunID+"="+info.FlowRunID,
			EnvFlowRunName+"="+info.FlowRunName,
			EnvDeployment+"="+info.DeploymentName,
		)
	}
	cmd.Stdout = f.opts.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = f.opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcessGroup(cmd)
	// Cancellation asks the whole group to terminate; Kill escalates.
	cmd.Cancel = func() error { return terminateGroup(cmd) }

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("flow %s: start %s: %w", f.name, f.argv[0], err)
	}

	ex := newExecution()
	// The process may already be gone; Wait below resolves the execution either way.
	ex.kill = func() { _ = killGroup(cmd) }

	go func() {
		waitErr := cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case waitErr == nil:
			ex.finish(nil)
		case errors.As(waitErr, &exitErr):
			ex.finish(&ExitError{Command: f.argv[0], ExitCode: exitErr.ExitCode()})
		default:
			ex.finish(fmt.Errorf("flow %s: wait: %w", f.name, waitErr))
		}
	}()
	return ex, nil
}
