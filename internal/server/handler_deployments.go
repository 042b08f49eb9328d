package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/flowserve/pkg/model"
)

func (s *Server) handleUpsertDeployment(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var spec model.DeploymentSpec
	if !decodeBody(w, r, reqID, &spec) {
		return
	}

	id, err := s.svc.UpsertDeployment(r.Context(), spec)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	dep, err := s.svc.GetDeployment(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, dep)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	opts.FlowName = q.Get("flow_name")
	opts.Clamp()

	deps, total, err := s.svc.ListDeployments(r.Context(), opts)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if deps == nil {
		deps = []*model.Deployment{}
	}
	respondList(w, reqID, deps, opts.Page(len(deps), total))
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	dep, err := s.svc.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, dep)
}

func (s *Server) handleGetDeploymentByName(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	full := model.DeploymentFullName(chi.URLParam(r, "flow"), chi.URLParam(r, "name"))
	dep, err := s.svc.GetDeploymentByName(r.Context(), full)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, dep)
}

func (s *Server) handleSetScheduleActive(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req struct {
		Active *bool `json:"active"`
	}
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if req.Active == nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "active", Message: "active is required"}))
		return
	}

	if err := s.svc.SetScheduleActive(r.Context(), id, *req.Active); err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	dep, err := s.svc.GetDeployment(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	s.logger.Info("schedule toggled", "deployment_id", id, "active", *req.Active)
	respondOK(w, reqID, dep)
}
