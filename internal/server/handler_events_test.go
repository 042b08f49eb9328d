package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/flowserve/pkg/model"
)

func TestFlowRunEvents(t *testing.T) {
	srv, svc := testServer(t)
	WithWatchInterval(10 * time.Millisecond)(srv)
	dep := upsert(t, srv, model.DeploymentSpec{Name: "nightly", FlowName: "etl"})
	ctx := context.Background()
	fr, err := svc.CreateFlowRun(ctx, dep.ID, model.FlowRunCreate{})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		svc.SetFlowRunState(ctx, fr.ID, model.StateUpdate{Type: model.StateRunning, RunnerName: "r1"})
		time.Sleep(50 * time.Millisecond)
		svc.SetFlowRunState(ctx, fr.ID, model.StateUpdate{Type: model.StateCompleted})
	}()

	req := httptest.NewRequest("GET", "/api/v1/flow_runs/"+fr.ID+"/events", nil)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		srv.ServeHTTP(w, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not end after the run completed")
	}

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: init\n")
	assert.Contains(t, body, `"type":"RUNNING"`)
	assert.Contains(t, body, "event: update\n")
	assert.True(t, strings.HasPrefix(body[strings.LastIndex(body, "event: "):], "event: complete\n"))
}

func TestFlowRunEvents_Terminal(t *testing.T) {
	srv, svc := testServer(t)
	dep := upsert(t, srv, model.DeploymentSpec{Name: "nightly", FlowName: "etl"})
	ctx := context.Background()
	fr, err := svc.CreateFlowRun(ctx, dep.ID, model.FlowRunCreate{})
	require.NoError(t, err)
	_, err = svc.SetFlowRunState(ctx, fr.ID, model.StateUpdate{Type: model.StateCancelled})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/flow_runs/"+fr.ID+"/events", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event: init\n")
	assert.Contains(t, w.Body.String(), "event: complete\n")
	assert.NotContains(t, w.Body.String(), "event: update\n")
}

func TestFlowRunEvents_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	code, env := do(t, srv, "GET", "/api/v1/flow_runs/run_missing/events", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, model.ErrNotFound, env.Error.Code)
}
