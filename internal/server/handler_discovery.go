package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "flowserve API",
		Version:     "v1",
		Description: "Deployment registry, flow run state and variables for flowserve runners",
		Endpoints: []endpointInfo{
			{"/api/v1/deployments", []string{"GET", "POST"}, "List deployments; upsert a deployment by flow and name"},
			{"/api/v1/deployments/{id}", []string{"GET"}, "Single deployment"},
			{"/api/v1/deployments/name/{flow}/{name}", []string{"GET"}, "Deployment by full name"},
			{"/api/v1/deployments/{id}/schedule", []string{"PUT"}, "Activate or pause a deployment's schedule"},
			{"/api/v1/deployments/{id}/flow_runs", []string{"POST"}, "Create a flow run from a deployment"},
			{"/api/v1/flow_runs", []string{"GET"}, "List flow runs (deployment_id, state, before, ids, limit)"},
			{"/api/v1/flow_runs/{id}", []string{"GET"}, "Single flow run"},
			{"/api/v1/flow_runs/{id}/state", []string{"PUT"}, "Set a flow run's state"},
			{"/api/v1/flow_runs/{id}/events", []string{"GET"}, "Stream a flow run's state changes (Server-Sent Events)"},
			{"/api/v1/variables/{name}", []string{"GET", "PUT", "DELETE"}, "Named variables"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
