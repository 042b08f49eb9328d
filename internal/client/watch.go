package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/me/flowserve/internal/orchestrator"
	"github.com/me/flowserve/pkg/model"
)

// WatchFlowRun follows the event stream of a flow run, calling fn for every
// event ("init", "update", "complete"), and returns the run once it is
// terminal. A stream that ends early is a *orchestrator.TransientError.
func (c *Client) WatchFlowRun(ctx context.Context, id string, fn func(event string, fr *model.FlowRun)) (*model.FlowRun, error) {
	op := "GET /flow_runs/" + id + "/events"
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/api/v1/flow_runs/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the request timeout of the regular client.
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, &orchestrator.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return nil, &orchestrator.TransientError{Op: op, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
		}
		var apiResp apiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, fmt.Errorf("%s: parse response (status %d): %w", op, resp.StatusCode, err)
		}
		return nil, responseError(resp.StatusCode, apiResp.Error)
	}

	var (
		last  *model.FlowRun
		event string
		data  strings.Builder
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event == "" {
				continue
			}
			var fr model.FlowRun
			if err := json.Unmarshal([]byte(data.String()), &fr); err != nil {
				return last, fmt.Errorf("%s: decode %s event: %w", op, event, err)
			}
			last = &fr
			if fn != nil {
				fn(event, last)
			}
			if event == "complete" {
				return last, nil
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if ctx.Err() != nil {
		return last, fmt.Errorf("%s: %w", op, ctx.Err())
	}
	err = sc.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return last, &orchestrator.TransientError{Op: op, Err: err}
}
