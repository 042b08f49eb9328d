package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/flowserve/pkg/model"
)

// handleFlowRunEvents streams state changes of a flow run via Server-Sent Events.
// GET /api/v1/flow_runs/{id}/events
//
// Events: "init" with the current run, "update" on every state change and
// "complete" once the run is terminal, after which the stream ends.
func (s *Server) handleFlowRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	fr, err := s.svc.GetFlowRun(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	if err := sendEvent(w, flusher, "init", fr); err != nil {
		s.logger.Debug("event client disconnected", "flow_run_id", id, "error", err)
		return
	}
	if fr.State.Type.IsTerminal() {
		sendEvent(w, flusher, "complete", fr)
		return
	}

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	last := fr.State
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fr, err = s.svc.GetFlowRun(r.Context(), id)
			if err != nil {
				s.logger.Error("event fetch error", "flow_run_id", id, "error", err)
				continue
			}

			if fr.State.Type != last.Type || !fr.State.Timestamp.Equal(last.Timestamp) {
				if err := sendEvent(w, flusher, "update", fr); err != nil {
					s.logger.Debug("event client disconnected", "flow_run_id", id)
					return
				}
				last = fr.State
			} else {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}

			if fr.State.Type.IsTerminal() {
				sendEvent(w, flusher, "complete", fr)
				return
			}
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
