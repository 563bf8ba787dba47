package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/narrator/internal/pipeline"
)

type synthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
}

// handleSynthesize narrates text inline and answers with the WAV. It takes
// no session, so it does not show up in session run state.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "empty_text", pipeline.ErrEmptyText.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	voice := strings.TrimSpace(req.VoiceID)
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	speed := req.Speed
	if speed == 0 {
		speed = s.cfg.DefaultSpeed
	}

	res, err := s.driver.RunSync(r.Context(), pipeline.Job{Text: req.Text, Voice: voice, Speed: speed})
	if err != nil {
		status, code := runErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	if res.Status == pipeline.ResultNothing {
		respondError(w, http.StatusUnprocessableEntity, "nothing_to_process", pipeline.StatusNothing)
		return
	}

	w.Header().Set("X-Chunk-Count", strconv.Itoa(res.ChunkCount))
	writeWAV(w, res.WAV, res.Duration().Milliseconds())
}
