package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-dct/internal/bridges/dct"
)

// ActionResponse acknowledges an accepted action.
type ActionResponse struct {
	Status    string `json:"status"`
	Action    string `json:"action"`
	CommandID string `json:"command_id"`
}

// FeedbackResponse is the result of a feedback query.
type FeedbackResponse struct {
	Kind  string `json:"kind"`
	Value bool   `json:"value"`
}

// handleState returns a snapshot of the device state.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.device.Snapshot())
}

// handleVariables returns the variable projection of the current state.
func (s *Server) handleVariables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dct.Variables(s.device.Snapshot(), s.unusedText))
}

// handleFeedback evaluates one feedback condition.
//
// Query parameters: buffer (1-based), status (buffer status word) and
// mode (mode value), depending on the kind.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	q := r.URL.Query()

	args := dct.FeedbackArgs{
		Status: q.Get("status"),
		Mode:   q.Get("mode"),
	}
	if raw := q.Get("buffer"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "buffer must be an integer")
			return
		}
		args.Buffer = n
	}

	value, err := dct.Feedback(s.device.Snapshot(), kind, args)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Kind: kind, Value: value})
}

// handleBufferChoices returns the buffer option list for the configured
// buffer count.
func (s *Server) handleBufferChoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"choices": dct.BufferChoices(s.device.Snapshot().BufferCount),
	})
}

// handleListActions returns the names accepted by POST /actions/{action}.
func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": dct.ActionNames()})
}

// handleAction runs one action with the JSON request body as parameters.
// An empty body selects the action's defaults.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, ErrCodeTooManyRequests, "too many actions, slow down")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "failed to read request body")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	commandID := uuid.NewString()
	if err := s.device.Dispatch(action, json.RawMessage(body)); err != nil {
		s.logger.Info("action rejected",
			"action", action,
			"command_id", commandID,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeDeviceError(w, err)
		return
	}

	s.logger.Info("action accepted",
		"action", action,
		"command_id", commandID,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, ActionResponse{
		Status:    "accepted",
		Action:    action,
		CommandID: commandID,
	})
}
