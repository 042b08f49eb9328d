package flow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScript_ParamsAndLog(t *testing.T) {
	var out bytes.Buffer
	f := Script("greet", `log("hello " + params.name + " from " + flow_run.id)`).WithOutput(&out)

	ctx := WithRunInfo(context.Background(), RunInfo{FlowRunID: "run_7"})
	ex, err := f.Start(ctx, map[string]any{"name": "world"})
	require.NoError(t, err)
	require.NoError(t, waitDone(t, ex, 5*time.Second))
	assert.Equal(t, "hello world from run_7", strings.TrimSpace(out.String()))
}

func TestScript_Throw(t *testing.T) {
	ex, err := Script("throws", `throw new Error("bad input")`).Start(context.Background(), nil)
	require.NoError(t, err)
	assert.ErrorContains(t, waitDone(t, ex, 5*time.Second), "bad input")
}

func TestScript_CompileError(t *testing.T) {
	_, err := Script("broken", `function (`).Start(context.Background(), nil)
	require.Error(t, err)
	require.Error(t, Script("broken", `function (`).Check())
	require.NoError(t, Script("fine", `log(1)`).Check())
}

func TestScript_CooperativeCancel(t *testing.T) {
	var out bytes.Buffer
	f := Script("loop", `while (!cancelled()) { sleep(10) } log("stopped")`).WithOutput(&out)

	ctx, cancel := context.WithCancel(context.Background())
	ex, err := f.Start(ctx, nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, ex, 5*time.Second))
	assert.Contains(t, out.String(), "stopped")
}

func TestScript_KillInterrupts(t *testing.T) {
	ex, err := Script("spin", `for (;;) {}`).Start(context.Background(), nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	ex.Kill()
	err = waitDone(t, ex, 5*time.Second)
	assert.True(t, errors.Is(err, ErrKilled), "got %v", err)
}
