package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/narrator/internal/artifacts"
	"github.com/ent0n29/narrator/internal/audio"
	"github.com/ent0n29/narrator/internal/pipeline"
	"github.com/ent0n29/narrator/internal/protocol"
	"github.com/ent0n29/narrator/internal/reliability"
)

type options struct {
	baseURL string
	userID  string
	voiceID string
	speed   float64
	text    string
	out     string
	timeout time.Duration
	wait    time.Duration
	verbose bool
}

type createSessionRequest struct {
	UserID  string  `json:"user_id,omitempty"`
	VoiceID string  `json:"voice_id,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// wsEnvelope covers the fields narratectl reads from every server message
// type: run events, system events and error events.
type wsEnvelope struct {
	Type       string `json:"type"`
	Code       string `json:"code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Completed  int    `json:"completed,omitempty"`
	Total      int    `json:"total,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

var errNothingToProcess = errors.New(pipeline.StatusNothing)

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "narratectl: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "narratectl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stdin io.Reader) (options, error) {
	var cfg options
	var textFile string

	fs := flag.NewFlagSet("narratectl", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "narrator base URL")
	fs.StringVar(&cfg.userID, "user-id", "narratectl", "user_id for the session")
	fs.StringVar(&cfg.voiceID, "voice", "", "voice id (default: server default)")
	fs.Float64Var(&cfg.speed, "speed", 0, "speech speed multiplier (default: server default)")
	fs.StringVar(&cfg.text, "text", "", "text to narrate")
	fs.StringVar(&textFile, "text-file", "", "read text from file ('-' for stdin)")
	fs.StringVar(&cfg.out, "out", artifacts.Filename, "output WAV path")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Minute, "overall timeout")
	fs.DurationVar(&cfg.wait, "wait", 2*time.Minute, "how long to wait for the server to load its model (0 disables)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print run progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.speed < 0 {
		return options{}, fmt.Errorf("speed must be > 0")
	}
	if cfg.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be > 0")
	}
	if strings.TrimSpace(cfg.out) == "" {
		return options{}, fmt.Errorf("out is required")
	}

	if cfg.text != "" && textFile != "" {
		return options{}, fmt.Errorf("use either -text or -text-file")
	}
	if textFile != "" {
		var raw []byte
		var err error
		if textFile == "-" {
			raw, err = io.ReadAll(io.LimitReader(stdin, 16<<20))
		} else {
			raw, err = os.ReadFile(textFile)
		}
		if err != nil {
			return options{}, fmt.Errorf("read text: %w", err)
		}
		cfg.text = string(raw)
	}
	if strings.TrimSpace(cfg.text) == "" {
		return options{}, fmt.Errorf("no text to narrate (use -text or -text-file)")
	}
	return cfg, nil
}

func run(cfg options, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	if err := waitReady(ctx, httpClient, cfg.baseURL, cfg.wait); err != nil {
		return fmt.Errorf("server not ready: %w", err)
	}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.StartRun{
		Type:      protocol.TypeStartRun,
		SessionID: sessionID,
		Text:      cfg.text,
		VoiceID:   strings.TrimSpace(cfg.voiceID),
		Speed:     cfg.speed,
	}); err != nil {
		return fmt.Errorf("send start_run: %w", err)
	}

	artifactID, err := awaitRun(ctx, conn, stdout, cfg.verbose)
	if errors.Is(err, errNothingToProcess) {
		fmt.Fprintln(stdout, pipeline.StatusNothing)
		return nil
	}
	if err != nil {
		return err
	}

	info, err := downloadArtifact(ctx, httpClient, cfg.baseURL, artifactID, cfg.out)
	if err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}
	fmt.Fprintf(stdout, "saved %s (%.1fs, %d Hz, %d samples)\n", cfg.out, info.Duration.Seconds(), info.SampleRate, info.SampleCount)
	return nil
}

// awaitRun prints run events until the run finishes and returns its
// artifact id.
func awaitRun(ctx context.Context, conn *websocket.Conn, stdout io.Writer, verbose bool) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("waiting for run: %w", ctx.Err())
			}
			return "", fmt.Errorf("ws read: %w", err)
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeErrorEvent):
			return "", fmt.Errorf("server rejected run: %s: %s", env.Code, env.Detail)
		case string(protocol.TypeSystemEvent):
			if verbose && env.Code == "run_accepted" {
				fmt.Fprintf(stdout, "run %s accepted\n", env.RunID)
			}
		case string(pipeline.EventRunStarted), string(pipeline.EventRunStatus), string(pipeline.EventRunProgress):
			if verbose && env.Status != "" {
				fmt.Fprintln(stdout, env.Status)
			}
		case string(pipeline.EventRunFailed):
			return "", fmt.Errorf("run failed: %s", env.Detail)
		case string(pipeline.EventRunCompleted):
			if env.ArtifactID == "" {
				return "", errNothingToProcess
			}
			if verbose {
				fmt.Fprintln(stdout, env.Status)
			}
			return env.ArtifactID, nil
		}
	}
}

// waitReady polls /readyz until the server has loaded its model. Connection
// errors and retryable statuses are retried; anything else fails fast.
func waitReady(ctx context.Context, client *http.Client, baseURL string, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return reliability.Retry(ctx, math.MaxInt32, 100*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/readyz", nil)
		if err != nil {
			return reliability.Permanent(err)
		}
		res, err := client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
		if res.StatusCode == http.StatusOK {
			return nil
		}
		err = fmt.Errorf("readyz HTTP %d", res.StatusCode)
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return err
		}
		return reliability.Permanent(err)
	})
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{
		UserID:  cfg.userID,
		VoiceID: strings.TrimSpace(cfg.voiceID),
		Speed:   cfg.speed,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func downloadArtifact(ctx context.Context, client *http.Client, baseURL, artifactID, out string) (audio.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/artifacts/"+url.PathEscape(artifactID), nil)
	if err != nil {
		return audio.Info{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return audio.Info{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<30))
	if err != nil {
		return audio.Info{}, err
	}
	if res.StatusCode != http.StatusOK {
		return audio.Info{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	info, err := audio.Inspect(bytes.NewReader(body))
	if err != nil {
		return audio.Info{}, err
	}
	if err := audio.WriteWAVFile(out, body); err != nil {
		return audio.Info{}, err
	}
	return info, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
