package httpapi

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

type voiceSummary struct {
	VoiceID string            `json:"voice_id"`
	Name    string            `json:"name"`
	Dim     int               `json:"dim"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type listVoicesResponse struct {
	DefaultVoiceID string         `json:"default_voice_id"`
	DefaultSpeed   float64        `json:"default_speed"`
	Voices         []voiceSummary `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	store := s.voiceStore()
	if store.Len() == 0 {
		respondError(w, http.StatusServiceUnavailable, "voices_not_loaded", "voice table is not loaded yet")
		return
	}

	names := store.Names()
	out := make([]voiceSummary, 0, len(names))
	for _, name := range names {
		out = append(out, voiceSummary{
			VoiceID: name,
			Name:    displayName(name),
			Dim:     store.Dim(name),
			Labels:  voiceLabels(name),
		})
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultVoiceID: s.cfg.DefaultVoice,
		DefaultSpeed:   s.cfg.DefaultSpeed,
		Voices:         out,
	})
}

var voiceAccents = map[byte]string{
	'a': "american",
	'b': "british",
	'e': "spanish",
	'f': "french",
	'h': "hindi",
	'i': "italian",
	'j': "japanese",
	'p': "portuguese",
	'z': "mandarin",
}

// voiceLabels decodes the two naming conventions of bundled voice tables:
// "<accent><gender>_<name>" (af_heart) and "<name>-<gender>" (expr-voice-2-f).
// Other names carry no labels.
func voiceLabels(name string) map[string]string {
	labels := map[string]string{}
	switch {
	case len(name) >= 4 && name[2] == '_':
		if accent, ok := voiceAccents[name[0]]; ok {
			labels["accent"] = accent
		}
		if gender := genderOf(name[1]); gender != "" {
			labels["gender"] = gender
		}
	case len(name) >= 3 && name[len(name)-2] == '-':
		if gender := genderOf(name[len(name)-1]); gender != "" {
			labels["gender"] = gender
		}
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}

func genderOf(c byte) string {
	switch c {
	case 'f':
		return "female"
	case 'm':
		return "male"
	}
	return ""
}

func displayName(name string) string {
	base := name
	if len(name) >= 4 && name[2] == '_' {
		base = name[3:]
	}
	base = strings.ReplaceAll(base, "_", " ")
	r, size := utf8.DecodeRuneInString(base)
	if r == utf8.RuneError {
		return name
	}
	return strings.ToUpper(string(r)) + base[size:]
}

type shareResponse struct {
	Text           string  `json:"text"`
	DefaultVoiceID string  `json:"default_voice_id"`
	DefaultSpeed   float64 `json:"default_speed"`
}

// handleShare echoes text handed to the app by a share target so the client
// can prefill its input.
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, shareResponse{
		Text:           r.URL.Query().Get("text"),
		DefaultVoiceID: s.cfg.DefaultVoice,
		DefaultSpeed:   s.cfg.DefaultSpeed,
	})
}
