package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ScriptFlow runs JavaScript in an embedded goja VM.
//
// The script sees:
//   - params: the flow run parameters
//   - flow_run: {id, name, deployment}
//   - cancelled(): true once cancellation was requested
//   - sleep(ms): pauses, returning early on cancellation
//   - log(...): writes a line to the flow's output
//
// An uncaught exception fails the run.
type ScriptFlow struct {
	name   string
	source string
	out    io.Writer
}

// Script creates a Flow from JavaScript source.
func Script(name, source string) *ScriptFlow {
	return &ScriptFlow{name: name, source: source, out: os.Stdout}
}

// WithOutput sets where log() writes.
func (f *ScriptFlow) WithOutput(w io.Writer) *ScriptFlow {
	f.out = w
	return f
}

func (f *ScriptFlow) Name() string { return f.name }

func (f *ScriptFlow) Start(ctx context.Context, params map[string]any) (*Execution, error) {
	prog, err := goja.Compile(f.name, f.source, false)
	if err != nil {
		return nil, fmt.Errorf("flow %s: compile script: %w", f.name, err)
	}

	vm := goja.New()
	killed := make(chan struct{})
	var killOnce sync.Once

	if params == nil {
		params = map[string]any{}
	}
	info, _ := RunInfoFromContext(ctx)
	globals := map[string]any{
		"params": params,
		"flow_run": map[string]any{
			"id":         info.FlowRunID,
			"name":       info.FlowRunName,
			"deployment": info.DeploymentName,
		},
		"cancelled": func() bool { return ctx.Err() != nil },
		"sleep": func(ms int64) {
			t := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			case <-killed:
			}
		},
		"log": func(args ...any) {
			fmt.Fprintln(f.out, args...)
		},
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("flow %s: set %s: %w", f.name, name, err)
		}
	}

	ex := newExecution()
	ex.kill = func() {
		killOnce.Do(func() {
			close(killed)
			vm.Interrupt(ErrKilled)
		})
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ex.finish(fmt.Errorf("flow %s panicked: %v", f.name, r))
			}
		}()
		_, err := vm.RunProgram(prog)
		var interrupted *goja.InterruptedError
		switch {
		case err == nil:
			ex.finish(nil)
		case errors.As(err, &interrupted):
			ex.finish(ErrKilled)
		default:
			ex.finish(fmt.Errorf("flow %s: %w", f.name, err))
		}
	}()
	return ex, nil
}

// Check compiles the source without running it.
func (f *ScriptFlow) Check() error {
	if _, err := goja.Compile(f.name, f.source, false); err != nil {
		return fmt.Errorf("flow %s: compile script: %w", f.name, err)
	}
	return nil
}
