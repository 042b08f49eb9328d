package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/flowserve/pkg/model"
)

func (s *Server) handleCreateFlowRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var create model.FlowRunCreate
	if r.ContentLength != 0 && !decodeBody(w, r, reqID, &create) {
		return
	}

	fr, err := s.svc.CreateFlowRun(r.Context(), chi.URLParam(r, "id"), create)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	s.logger.Info("flow run created", "flow_run_id", fr.ID, "deployment_id", fr.DeploymentID)
	respondCreated(w, reqID, fr)
}

func (s *Server) handleListFlowRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	filter, apiErr := parseFlowRunFilter(r.URL.Query())
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	runs, err := s.svc.ListFlowRuns(r.Context(), filter)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if runs == nil {
		runs = []*model.FlowRun{}
	}
	respondOK(w, reqID, runs)
}

func (s *Server) handleGetFlowRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	fr, err := s.svc.GetFlowRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, fr)
}

func (s *Server) handleSetFlowRunState(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var update model.StateUpdate
	if !decodeBody(w, r, reqID, &update) {
		return
	}
	if update.Type == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "type", Message: "type is required"}))
		return
	}

	fr, err := s.svc.SetFlowRunState(r.Context(), id, update)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	s.logger.Debug("flow run state set", "flow_run_id", id, "state", fr.State.Type, "runner", update.RunnerName)
	respondOK(w, reqID, fr)
}

// parseFlowRunFilter reads a filter from query parameters. List parameters
// may be repeated or comma separated.
func parseFlowRunFilter(q url.Values) (model.FlowRunFilter, *model.APIError) {
	filter := model.FlowRunFilter{
		IDs:           listParam(q, "ids"),
		DeploymentIDs: listParam(q, "deployment_id"),
	}
	for _, st := range listParam(q, "state") {
		t := model.StateType(strings.ToUpper(st))
		if !t.Valid() {
			return filter, model.NewValidationError("invalid state filter",
				model.FieldError{Field: "state", Message: "unknown state " + st})
		}
		filter.States = append(filter.States, t)
	}
	if v := q.Get("before"); v != "" {
		before, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return filter, model.NewValidationError("invalid time",
				model.FieldError{Field: "before", Message: err.Error()})
		}
		filter.ScheduledBefore = &before
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, model.NewValidationError("invalid limit",
				model.FieldError{Field: "limit", Message: "must be a non-negative integer"})
		}
		filter.Limit = n
	}
	return filter, nil
}

func listParam(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
