package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/narrator/internal/config"
	"github.com/ent0n29/narrator/internal/observability"
	"github.com/ent0n29/narrator/internal/pipeline"
	"github.com/ent0n29/narrator/internal/protocol"
	"github.com/ent0n29/narrator/internal/session"
	"github.com/ent0n29/narrator/internal/voices"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	driver   *pipeline.Driver
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	logger   *slog.Logger
	upgrader websocket.Upgrader

	voicesMu sync.RWMutex
	voices   *voices.Store
}

func New(cfg config.Config, sessions *session.Manager, driver *pipeline.Driver, metrics *observability.Metrics, latency *observability.LatencyWindow, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		driver:   driver,
		metrics:  metrics,
		latency:  latency,
		logger:   logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only drive runs from the same origin unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// SetVoices installs the voice table once it has been loaded.
func (s *Server) SetVoices(v *voices.Store) {
	s.voicesMu.Lock()
	s.voices = v
	s.voicesMu.Unlock()
}

func (s *Server) voiceStore() *voices.Store {
	s.voicesMu.RLock()
	defer s.voicesMu.RUnlock()
	return s.voices
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(crossOriginIsolation)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Get("/v1/session/{id}", s.handleGetSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Post("/v1/session/{id}/runs", s.handleStartRun)
	r.Get("/v1/session/{id}/artifacts", s.handleListArtifacts)

	r.Get("/v1/voices", s.handleListVoices)
	r.Get("/v1/share", s.handleShare)
	r.Post("/v1/synthesize", s.handleSynthesize)

	r.Get("/v1/artifacts/{id}", s.handleGetArtifact)
	r.Get("/v1/artifacts/{id}/meta", s.handleGetArtifactMeta)

	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

// crossOriginIsolation sets the headers a browser needs before it allows
// SharedArrayBuffer backed audio players on the page.
func crossOriginIsolation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
		"running_runs":    s.sessions.RunningCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	modelReady := s.driver != nil && s.driver.Ready()
	voiceCount := s.voiceStore().Len()
	if !modelReady || voiceCount == 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "loading",
			"model_loaded": modelReady,
			"voices":       voiceCount,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"model_loaded": true,
		"voices":       voiceCount,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		req.VoiceID = s.cfg.DefaultVoice
	}
	if req.Speed == 0 {
		req.Speed = s.cfg.DefaultSpeed
	}
	if !(req.Speed > 0) {
		respondError(w, http.StatusBadRequest, "invalid_speed", pipeline.ErrInvalidSpeed.Error())
		return
	}

	sess := s.sessions.Create(strings.TrimSpace(req.UserID), strings.TrimSpace(req.VoiceID), req.Speed)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))

	respondJSON(w, http.StatusCreated, s.sessionResponse(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.End(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
		"run_state":  sess.RunState,
	})
}

func (s *Server) sessionResponse(sess *session.Session) session.CreateResponse {
	return session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		VoiceID:         sess.VoiceID,
		Speed:           sess.Speed,
		RunState:        sess.RunState,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.StartRun:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case pipeline.Event:
		return protocol.MessageType(m.Type), true
	default:
		return "", false
	}
}
