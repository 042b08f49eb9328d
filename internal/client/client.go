// Package client talks to a flowserve API server. Client implements
// orchestrator.Service, so a Runner can poll a remote server the same way it
// polls an in-process one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/me/flowserve/internal/orchestrator"
	"github.com/me/flowserve/pkg/model"
)

var _ orchestrator.Service = (*Client)(nil)

// Client is an HTTP client for the flowserve API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client with connection pooling. baseURL is the server root,
// e.g. "http://localhost:4200".
func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		logger: logger.With("component", "client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

// do performs a request and decodes the envelope's data into out when out is
// non-nil. Network failures, 429 and 5xx responses are returned as
// *orchestrator.TransientError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (*apiResponse, error) {
	op := method + " " + path
	u := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("HTTP request", "method", method, "url", u)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, &orchestrator.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &orchestrator.TransientError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("HTTP response", "status", resp.StatusCode, "bytes", len(respBody))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &orchestrator.TransientError{
			Op:  op,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("%s: parse response (status %d): %w", op, resp.StatusCode, err)
	}
	if apiResp.Status == "error" || resp.StatusCode >= 400 {
		return &apiResp, responseError(resp.StatusCode, apiResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return &apiResp, fmt.Errorf("%s: decode data: %w", op, err)
		}
	}
	return &apiResp, nil
}

// responseError converts an error envelope back into the service's error types.
func responseError(status int, apiErr *model.APIError) error {
	if apiErr == nil {
		apiErr = &model.APIError{Code: model.ErrInternal, Message: http.StatusText(status)}
	}
	switch {
	case apiErr.Code == model.ErrInvalidTransition:
		te := &model.InvalidTransitionError{}
		for _, d := range apiErr.Details {
			switch d.Field {
			case "entity":
				te.Entity = d.Message
			case "id":
				te.ID = d.Message
			case "from":
				te.From = d.Message
			case "to":
				te.To = d.Message
			case "reason":
				te.Reason = d.Message
			}
		}
		return te
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", apiErr.Message, orchestrator.ErrNotFound)
	}
	return apiErr
}

func (c *Client) UpsertDeployment(ctx context.Context, spec model.DeploymentSpec) (string, error) {
	var dep model.Deployment
	if _, err := c.do(ctx, http.MethodPost, "/deployments/", nil, spec, &dep); err != nil {
		return "", err
	}
	return dep.ID, nil
}

func (c *Client) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	var dep model.Deployment
	if _, err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(id), nil, nil, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

func (c *Client) GetDeploymentByName(ctx context.Context, fullName string) (*model.Deployment, error) {
	flowName, name, ok := model.SplitDeploymentFullName(fullName)
	if !ok {
		return nil, model.NewValidationError("invalid deployment name",
			model.FieldError{Field: "name", Message: fmt.Sprintf("%q is not of the form {flow}/{name}", fullName)})
	}
	path := "/deployments/name/" + url.PathEscape(flowName) + "/" + url.PathEscape(name)
	var dep model.Deployment
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

func (c *Client) ListDeployments(ctx context.Context, opts model.ListOptions) ([]*model.Deployment, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("offset", strconv.Itoa(opts.Offset))
	if opts.FlowName != "" {
		q.Set("flow_name", opts.FlowName)
	}
	var deps []*model.Deployment
	resp, err := c.do(ctx, http.MethodGet, "/deployments/", q, nil, &deps)
	if err != nil {
		return nil, 0, err
	}
	total := len(deps)
	if resp.Pagination != nil {
		total = resp.Pagination.Total
	}
	return deps, total, nil
}

func (c *Client) SetScheduleActive(ctx context.Context, id string, active bool) error {
	_, err := c.do(ctx, http.MethodPut, "/deployments/"+url.PathEscape(id)+"/schedule", nil,
		map[string]bool{"active": active}, nil)
	return err
}

func (c *Client) ListFlowRuns(ctx context.Context, filter model.FlowRunFilter) ([]*model.FlowRun, error) {
	q := url.Values{}
	if len(filter.IDs) > 0 {
		q.Set("ids", strings.Join(filter.IDs, ","))
	}
	if len(filter.DeploymentIDs) > 0 {
		q.Set("deployment_id", strings.Join(filter.DeploymentIDs, ","))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		q.Set("state", strings.Join(states, ","))
	}
	if filter.ScheduledBefore != nil {
		q.Set("before", filter.ScheduledBefore.UTC().Format(time.RFC3339Nano))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var runs []*model.FlowRun
	if _, err := c.do(ctx, http.MethodGet, "/flow_runs/", q, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) CreateFlowRun(ctx context.Context, deploymentID string, create model.FlowRunCreate) (*model.FlowRun, error) {
	var fr model.FlowRun
	if _, err := c.do(ctx, http.MethodPost, "/deployments/"+url.PathEscape(deploymentID)+"/flow_runs", nil, create, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

func (c *Client) GetFlowRun(ctx context.Context, id string) (*model.FlowRun, error) {
	var fr model.FlowRun
	if _, err := c.do(ctx, http.MethodGet, "/flow_runs/"+url.PathEscape(id), nil, nil, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

func (c *Client) SetFlowRunState(ctx context.Context, id string, update model.StateUpdate) (*model.FlowRun, error) {
	var fr model.FlowRun
	if _, err := c.do(ctx, http.MethodPut, "/flow_runs/"+url.PathEscape(id)+"/state", nil, update, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

func (c *Client) SetVariable(ctx context.Context, name string, set model.VariableSet) (*model.Variable, error) {
	var v model.Variable
	if _, err := c.do(ctx, http.MethodPut, "/variables/"+url.PathEscape(name), nil, set, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVariable returns (nil, nil) when the variable does not exist.
func (c *Client) GetVariable(ctx context.Context, name string) (*model.Variable, error) {
	var v model.Variable
	if _, err := c.do(ctx, http.MethodGet, "/variables/"+url.PathEscape(name), nil, nil, &v); err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (c *Client) UnsetVariable(ctx context.Context, name string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	if _, err := c.do(ctx, http.MethodDelete, "/variables/"+url.PathEscape(name), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

// Health returns the server's health payload.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
