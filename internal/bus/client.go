package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix prefixes every run event subject.
const SubjectPrefix = "narrator.runs"

// Subject returns the subject that carries run events for a session.
// NATS tokens may not contain separators or wildcards, so those are replaced.
func Subject(sessionID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, strings.TrimSpace(sessionID))
	if token == "" {
		token = "_"
	}
	return SubjectPrefix + "." + token
}

// Publisher fans run events out to NATS as JSON.
type Publisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(url, name string, timeout time.Duration, log *slog.Logger) (*Publisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("no NATS url configured")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("url", url))
	return &Publisher{conn: conn, log: log}, nil
}

// PublishRunEvent encodes v and publishes it on the session's subject.
func (p *Publisher) PublishRunEvent(sessionID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	if err := p.conn.Publish(Subject(sessionID), data); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	return nil
}

func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.log.Info("closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
