package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/narrator/internal/pipeline"
	"github.com/ent0n29/narrator/internal/session"
	"github.com/ent0n29/narrator/internal/synth"
)

type startRunRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
}

type startRunResponse struct {
	SessionID string           `json:"session_id"`
	RunID     string           `json:"run_id"`
	RunState  session.RunState `json:"run_state"`
	Status    string           `json:"status"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))

	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	runID, err := s.driver.Start(r.Context(), sessionID, pipeline.Job{
		Text:  req.Text,
		Voice: strings.TrimSpace(req.VoiceID),
		Speed: req.Speed,
	})
	if err != nil {
		status, code := runErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, startRunResponse{
		SessionID: sessionID,
		RunID:     runID,
		RunState:  session.RunRunning,
		Status:    pipeline.StatusStarting,
	})
}

// runErrorStatus maps a rejected or failed run to an HTTP status and an
// error code shared by the REST and websocket surfaces.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrNotReady):
		return http.StatusServiceUnavailable, "model_not_ready"
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress"
	case errors.Is(err, pipeline.ErrEmptyText):
		return http.StatusBadRequest, "empty_text"
	case errors.Is(err, pipeline.ErrInvalidSpeed):
		return http.StatusBadRequest, "invalid_speed"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return http.StatusConflict, "session_ended"
	}
	switch synth.ErrorStage(err) {
	case "voice":
		return http.StatusBadRequest, "unknown_voice"
	case "phonemize":
		return http.StatusBadGateway, "phonemization_failed"
	case "inference":
		return http.StatusInternalServerError, "inference_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}
