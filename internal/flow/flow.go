// Package flow defines executable units of work that deployments reference:
// Go functions, OS commands and JavaScript scripts.
package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrKilled is the result of an execution that was forcibly terminated.
var ErrKilled = errors.New("flow: execution killed")

// Flow is a named unit of work.
type Flow interface {
	Name() string
	// Start begins executing the flow and returns immediately. Cancelling ctx
	// asks the flow to stop gracefully; Execution.Kill stops it forcibly.
	Start(ctx context.Context, params map[string]any) (*Execution, error)
}

// Execution is a handle to one running flow.
type Execution struct {
	done chan struct{}
	once sync.Once
	err  error
	kill func()
}

func newExecution() *Execution {
	return &Execution{done: make(chan struct{})}
}

// finish records the outcome. Only the first call has any effect.
func (e *Execution) finish(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.done)
	})
}

// Done is closed when the execution has finished.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Err returns the outcome. It is only meaningful once Done is closed.
func (e *Execution) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Wait blocks until the execution finishes and returns its outcome.
func (e *Execution) Wait() error {
	<-e.done
	return e.err
}

// Kill forcibly terminates the execution. Done is closed shortly after.
func (e *Execution) Kill() {
	if e.kill != nil {
		e.kill()
	}
}

// RunInfo describes the flow run an execution belongs to.
type RunInfo struct {
	FlowRunID      string
	FlowRunName    string
	DeploymentID   string
	DeploymentName string
}

type runInfoKey struct{}

// WithRunInfo returns a context carrying info.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFromContext returns the RunInfo stored in ctx, if any.
func RunInfoFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}

// Slug converts a flow name to the form used in deployment names:
// lowercase with '_' and spaces replaced by '-'.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}

// Registry maps flow slugs to flows. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]Flow
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]Flow)}
}

// Register adds f under Slug(f.Name()), replacing any previous flow of that name.
func (r *Registry) Register(f Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[Slug(f.Name())] = f
}

// Get returns the flow registered under name (slugged before lookup).
func (r *Registry) Get(name string) (Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[Slug(name)]
	return f, ok
}

// Names returns the registered slugs.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	return names
}
