package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/narrator/internal/pipeline"
	"github.com/ent0n29/narrator/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleSessionWS streams run events of one session and accepts start_run
// and client_control messages. Closing the socket does not stop a run in
// flight; reconnecting clients pick it up via the status action.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With(slog.String("session_id", sessionID))
	logger.Debug("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.driver.Subscribe(sessionID)
	defer unsubscribe()

	outbound := make(chan any, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
				continue
			case ev, ok := <-events:
				if !ok {
					return
				}
				msg = ev
			case m := <-outbound:
				msg = m
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			logger.Warn("websocket outbound queue full", slog.Any("message", msg))
		}
	}

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		send(s.handleClientMessage(ctx, sessionID, parsed))
	}

	cancel()
	<-writerDone
	logger.Debug("websocket disconnected")
}

// handleClientMessage returns the direct reply to one parsed client message.
// Run progress arrives separately through the driver subscription.
func (s *Server) handleClientMessage(ctx context.Context, sessionID string, msg any) any {
	switch m := msg.(type) {
	case protocol.StartRun:
		if m.SessionID != sessionID {
			return sessionMismatch(sessionID, m.SessionID)
		}
		runID, err := s.driver.Start(ctx, sessionID, pipeline.Job{
			Text:  m.Text,
			Voice: strings.TrimSpace(m.VoiceID),
			Speed: m.Speed,
		})
		if err != nil {
			_, code := runErrorStatus(err)
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      code,
				Source:    "pipeline",
				Retryable: code == "run_in_progress" || code == "model_not_ready",
				Detail:    err.Error(),
			}
		}
		return protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      "run_accepted",
			RunID:     runID,
		}
	case protocol.ClientControl:
		if m.SessionID != sessionID {
			return sessionMismatch(sessionID, m.SessionID)
		}
		switch m.Action {
		case protocol.ActionPing:
			_ = s.sessions.Touch(sessionID)
			return protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"}
		case protocol.ActionStatus:
			sess, err := s.sessions.Get(sessionID)
			if err != nil {
				return protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "session_not_found",
					Source:    "gateway",
					Detail:    err.Error(),
				}
			}
			ev := protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: sessionID,
				Code:      "session_status",
				Session:   sess,
			}
			if sess.Run != nil {
				ev.RunID = sess.Run.ID
				ev.Detail = sess.Run.StatusText
			}
			return ev
		default:
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "unsupported_action",
				Source:    "gateway",
				Detail:    "unsupported control action: " + m.Action,
			}
		}
	default:
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "invalid_client_message",
			Source:    "gateway",
			Detail:    protocol.ErrUnsupportedType.Error(),
		}
	}
}

func sessionMismatch(want, got string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: want,
		Code:      "session_mismatch",
		Source:    "gateway",
		Detail:    "message session_id " + got + " does not match the connection",
	}
}
