package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/narrator/internal/artifacts"
)

const defaultArtifactListLimit = 20

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupArtifact(w, r)
	if !ok {
		return
	}
	writeWAV(w, a.WAV, a.Duration().Milliseconds())
}

func (s *Server) handleGetArtifactMeta(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupArtifact(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, artifactMeta(a))
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := defaultArtifactListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.driver.Artifacts().ListBySession(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "artifact_store_failed", err.Error())
		return
	}
	out := make([]artifactMetaResponse, 0, len(list))
	for _, a := range list {
		out = append(out, artifactMeta(a))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"artifacts":  out,
	})
}

func (s *Server) lookupArtifact(w http.ResponseWriter, r *http.Request) (artifacts.Artifact, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	a, err := s.driver.Artifacts().Get(r.Context(), id)
	switch {
	case errors.Is(err, artifacts.ErrNotFound):
		respondError(w, http.StatusNotFound, "artifact_not_found", err.Error())
		return artifacts.Artifact{}, false
	case err != nil:
		respondError(w, http.StatusInternalServerError, "artifact_store_failed", err.Error())
		return artifacts.Artifact{}, false
	}
	return a, true
}

type artifactMetaResponse struct {
	artifacts.Artifact
	DurationMS  int64  `json:"duration_ms"`
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

func artifactMeta(a artifacts.Artifact) artifactMetaResponse {
	return artifactMetaResponse{
		Artifact:    a.Meta(),
		DurationMS:  a.Duration().Milliseconds(),
		DownloadURL: "/v1/artifacts/" + a.ID,
		Filename:    artifacts.Filename,
	}
}

func writeWAV(w http.ResponseWriter, wav []byte, durationMS int64) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifacts.Filename))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Audio-Duration-Ms", strconv.FormatInt(durationMS, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
