package flow

import (
	"context"
	"fmt"
)

// FuncFlow runs a Go function in its own goroutine.
type FuncFlow struct {
	name string
	fn   func(ctx context.Context, params map[string]any) error
}

// Func wraps fn as a Flow. fn should return promptly once ctx is cancelled;
// a goroutine cannot be preempted, so Kill only abandons it.
func Func(name string, fn func(ctx context.Context, params map[string]any) error) *FuncFlow {
	return &FuncFlow{name: name, fn: fn}
}

func (f *FuncFlow) Name() string { return f.name }

func (f *FuncFlow) Start(ctx context.Context, params map[string]any) (*Execution, error) {
	ex := newExecution()
	ex.kill = func() { ex.finish(ErrKilled) }

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ex.finish(fmt.Errorf("flow %s panicked: %v", f.name, r))
			}
		}()
		ex.finish(f.fn(ctx, params))
	}()
	return ex, nil
}
