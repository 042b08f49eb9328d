package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/flowserve/internal/config"
	"github.com/me/flowserve/internal/orchestrator"
	"github.com/me/flowserve/internal/store"
	"github.com/me/flowserve/pkg/model"
)

func testServer(t *testing.T) (*Server, *orchestrator.Local) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	svc := orchestrator.NewLocal(st, logger)
	return New(config.DefaultServerConfig(), svc, logger), svc
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = strings.NewReader(s)
		} else {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "%s %s: invalid JSON: %s", method, path, w.Body.String())
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, w.Header().Get("X-Request-ID"))
	return w.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func upsert(t *testing.T, srv *Server, spec model.DeploymentSpec) *model.Deployment {
	t.Helper()
	code, env := do(t, srv, "POST", "/api/v1/deployments/", spec)
	require.Equal(t, http.StatusOK, code, "upsert: %+v", env.Error)
	return decodeData[*model.Deployment](t, env)
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	code, env := do(t, srv, "GET", "/api/v1/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", env.Status)

	data := decodeData[discoveryResponse](t, env)
	assert.Equal(t, "flowserve API", data.Name)
	assert.GreaterOrEqual(t, len(data.Endpoints), 9)
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	code, env := do(t, srv, "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, code)

	data := decodeData[healthResponse](t, env)
	assert.Equal(t, "healthy", data.Status)
	assert.Equal(t, Version, data.Version)
	assert.Equal(t, "disabled", data.Scheduler)
}

type stubScheduler struct{}

func (stubScheduler) Start(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (stubScheduler) Stop() error                     { return nil }
func (stubScheduler) Tick(context.Context) error      { return nil }

func TestHealth_WithScheduler(t *testing.T) {
	srv, _ := testServer(t)
	WithScheduler(stubScheduler{})(srv)
	code, env := do(t, srv, "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "enabled", decodeData[healthResponse](t, env).Scheduler)
}

func TestUpsertDeployment(t *testing.T) {
	srv, _ := testServer(t)
	hour := time.Hour
	spec := model.DeploymentSpec{
		Name:       "nightly",
		FlowName:   "etl",
		Schedule:   model.ScheduleSpec{Interval: &hour},
		Parameters: map[string]any{"target": "warehouse"},
	}
	dep := upsert(t, srv, spec)
	assert.True(t, strings.HasPrefix(dep.ID, "dep_"))
	assert.Equal(t, "etl/nightly", dep.FullName())
	assert.False(t, dep.IsScheduleActive)

	spec.Description = "updated"
	again := upsert(t, srv, spec)
	assert.Equal(t, dep.ID, again.ID)
	assert.Equal(t, "updated", again.Description)
}

func TestUpsertDeployment_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	hour := time.Hour

	code, env := do(t, srv, "POST", "/api/v1/deployments/", "not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, model.ErrValidation, env.Error.Code)

	code, env = do(t, srv, "POST", "/api/v1/deployments/", model.DeploymentSpec{FlowName: "etl"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, model.ErrValidation, env.Error.Code)

	code, env = do(t, srv, "POST", "/api/v1/deployments/", model.DeploymentSpec{
		Name: "x", FlowName: "etl",
		Schedule: model.ScheduleSpec{Interval: &hour, Cron: "* * * * *"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Only one of interval, cron, or rrule can be provided.", env.Error.Message)
}

func TestGetDeployment(t *testing.T) {
	srv, _ := testServer(t)
	dep := upsert(t, srv, model.DeploymentSpec{Name: "nightly", FlowName: "etl"})

	code, env := do(t, srv, "GET", "/api/v1/deployments/"+dep.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, dep.ID, decodeData[*model.Deployment](t, env).ID)

	code, env = do(t, srv, "GET", "/api/v1/deployments/name/etl/nightly", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, dep.ID, decodeData[*model.Deployment](t, env).ID)

	code, env = do(t, srv, "GET", "/api/v1/deployments/dep_missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, model.ErrNotFound, env.Error.Code)

	code, _ = do(t, srv, "GET", "/api/v1/deployments/name/etl/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListDeployments(t *testing.T) {
	srv, _ := testServer(t)
	for _, name := range []string{"a", "b", "c"} {
		upsert(t, srv, model.DeploymentSpec{Name: name, FlowName: "etl"})
	}
	upsert(t, srv, model.DeploymentSpec{Name: "a", FlowName: "report"})

	code, env := do(t, srv, "GET", "/api/v1/deployments/?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]*model.Deployment](t, env), 2)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 4, env.Pagination.Total)
	assert.True(t, env.Pagination.HasMore)

	code, env = do(t, srv, "GET", "/api/v1/deployments/?flow_name=report", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]*model.Deployment](t, env), 1)
}

func TestSetScheduleActive(t *testing.T) {
	srv, _ := testServer(t)
	dep := upsert(t, srv, model.DeploymentSpec{Name: "nightly", FlowName: "etl"})

	code, env := do(t, srv, "PUT", "/api/v1/deployments/"+dep.ID+"/schedule", map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[*model.Deployment](t, env).IsScheduleActive)

	code, env = do(t, srv, "PUT", "/api/v1/deployments/"+dep.ID+"/schedule", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "active", env.Error.Details[0].Field)

	code, _ = do(t, srv, "PUT", "/api/v1/deployments/dep_missing/schedule", map[string]bool{"active": false})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFlowRunLifecycle(t *testing.T) {
	srv, _ := testServer(t)
	dep := upsert(t, srv, model.DeploymentSpec{
		Name: "nightly", FlowName: "etl", Parameters: map[string]any{"a": "1"},
	})

	code, env := do(t, srv, "POST", "/api/v1/deployments/"+dep.ID+"/flow_runs",
		model.FlowRunCreate{Parameters: map[string]any{"b": "2"}})
	require.Equal(t, http.StatusCreated, code, "%+v", env.Error)
	fr := decodeData[*model.FlowRun](t, env)
	assert.True(t, strings.HasPrefix(fr.ID, "run_"))
	assert.Equal(t, model.StateScheduled, fr.State.Type)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, fr.Parameters)

	code, env = do(t, srv, "PUT", "/api/v1/flow_runs/"+fr.ID+"/state",
		model.StateUpdate{Type: model.StateRunning, RunnerName: "r1"})
	require.Equal(t, http.StatusOK, code)
	running := decodeData[*model.FlowRun](t, env)
	assert.Equal(t, model.StateRunning, running.State.Type)
	assert.Equal(t, "r1", running.RunnerName)
	assert.NotNil(t, running.StartTime)

	code, env = do(t, srv, "PUT", "/api/v1/flow_runs/"+fr.ID+"/state", model.StateUpdate{Type: model.StateCompleted})
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, srv, "PUT", "/api/v1/flow_runs/"+fr.ID+"/state", model.StateUpdate{Type: model.StateRunning})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, model.ErrInvalidTransition, env.Error.Code)
	assert.Contains(t, env.Error.Details, model.FieldError{Field: "from", Message: "COMPLETED"})

	code, env = do(t, srv, "GET", "/api/v1/flow_runs/"+fr.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StateCompleted, decodeData[*model.FlowRun](t, env).State.Type)

	code, _ = do(t, srv, "PUT", "/api/v1/flow_runs/"+fr.ID+"/state", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, srv, "GET", "/api/v1/flow_runs/run_missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, srv, "POST", "/api/v1/deployments/dep_missing/flow_runs", model.FlowRunCreate{})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListFlowRuns_Filters(t *testing.T) {
	srv, svc := testServer(t)
	ctx := context.Background()
	a := upsert(t, srv, model.DeploymentSpec{Name: "a", FlowName: "etl"})
	b := upsert(t, srv, model.DeploymentSpec{Name: "b", FlowName: "etl"})

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due, err := svc.CreateFlowRun(ctx, a.ID, model.FlowRunCreate{ExpectedStartTime: &past})
	require.NoError(t, err)
	later, err := svc.CreateFlowRun(ctx, a.ID, model.FlowRunCreate{ExpectedStartTime: &future})
	require.NoError(t, err)
	other, err := svc.CreateFlowRun(ctx, b.ID, model.FlowRunCreate{State: model.StatePending})
	require.NoError(t, err)

	list := func(query string) []string {
		code, env := do(t, srv, "GET", "/api/v1/flow_runs/?"+query, nil)
		require.Equal(t, http.StatusOK, code, "%+v", env.Error)
		var ids []string
		for _, fr := range decodeData[[]*model.FlowRun](t, env) {
			ids = append(ids, fr.ID)
		}
		return ids
	}

	assert.ElementsMatch(t, []string{due.ID, later.ID}, list("deployment_id="+a.ID))
	assert.ElementsMatch(t, []string{due.ID, later.ID, other.ID}, list("deployment_id="+a.ID+","+b.ID))
	assert.ElementsMatch(t, []string{other.ID}, list("state=pending"))
	assert.ElementsMatch(t, []string{due.ID, other.ID},
		list("before="+time.Now().UTC().Format(time.RFC3339Nano)))
	assert.ElementsMatch(t, []string{later.ID}, list("ids="+later.ID))

	code, _ := do(t, srv, "GET", "/api/v1/flow_runs/?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, srv, "GET", "/api/v1/flow_runs/?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVariables(t *testing.T) {
	srv, _ := testServer(t)

	code, env := do(t, srv, "PUT", "/api/v1/variables/api_base", model.VariableSet{Value: "https://example.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://example.com", decodeData[*model.Variable](t, env).Value)

	code, env = do(t, srv, "PUT", "/api/v1/variables/api_base", model.VariableSet{Value: "other"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, model.ErrConflict, env.Error.Code)

	code, _ = do(t, srv, "PUT", "/api/v1/variables/api_base", model.VariableSet{Value: "other", Overwrite: true})
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, srv, "GET", "/api/v1/variables/api_base", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "other", decodeData[*model.Variable](t, env).Value)

	code, _ = do(t, srv, "PUT", "/api/v1/variables/Bad%20Name", model.VariableSet{Value: 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, srv, "DELETE", "/api/v1/variables/api_base", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[map[string]bool](t, env)["deleted"])

	code, env = do(t, srv, "DELETE", "/api/v1/variables/api_base", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decodeData[map[string]bool](t, env)["deleted"])

	code, _ = do(t, srv, "GET", "/api/v1/variables/api_base", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
