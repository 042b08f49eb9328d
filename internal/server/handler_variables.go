package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/flowserve/pkg/model"
)

func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	v, err := s.svc.GetVariable(r.Context(), name)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if v == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("variable", name))
		return
	}
	respondOK(w, reqID, v)
}

func (s *Server) handleSetVariable(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var set model.VariableSet
	if !decodeBody(w, r, reqID, &set) {
		return
	}
	v, err := s.svc.SetVariable(r.Context(), chi.URLParam(r, "name"), set)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, v)
}

func (s *Server) handleUnsetVariable(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	deleted, err := s.svc.UnsetVariable(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]bool{"deleted": deleted})
}
