package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eduvox/viva-gateway/internal/config"
	"github.com/eduvox/viva-gateway/internal/viva"
	"github.com/rs/zerolog"
)

// SessionHeader carries the session id on every request/response call.
const SessionHeader = "X-Session-ID"

// Client is the request/response channel to the examiner backend. Every
// call carries an explicit timeout; on timeout or non-2xx status it fails
// with *viva.BackendError. Results are independently sufficient to update
// session state — callers must not wait for a matching push event.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	healthTimeout  time.Duration
	controlTimeout time.Duration
	audioTimeout   time.Duration
	log            zerolog.Logger
}

// NewClient creates a backend Client from config.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BackendBaseURL,
		// Per-call deadlines come from context; the transport itself
		// only bounds dialing and idle connections.
		httpClient:     &http.Client{},
		healthTimeout:  cfg.HealthTimeout,
		controlTimeout: cfg.ControlTimeout,
		audioTimeout:   cfg.AudioTimeout,
		log:            log.With().Str("component", "backend_client").Logger(),
	}
}

// ControlTimeout exposes the text/control deadline so the turn coordinator
// can size its processing watchdog consistently.
func (c *Client) ControlTimeout() time.Duration { return c.controlTimeout }

// AudioTimeout exposes the audio-bearing deadline.
func (c *Client) AudioTimeout() time.Duration { return c.audioTimeout }

// Health probes GET /health within the health timeout.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, c.healthTimeout, http.MethodGet, "/health", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start issues POST /start for a new session.
func (c *Client) Start(ctx context.Context, sessionID string, cfg viva.SessionConfig) (*StartResponse, error) {
	req := StartRequest{
		SessionID:  sessionID,
		Subject:    cfg.Subject,
		Topic:      cfg.Topic,
		Difficulty: cfg.Difficulty,
		Voice:      cfg.Voice,
	}
	var out StartResponse
	if err := c.do(ctx, c.controlTimeout, http.MethodPost, "/start", sessionID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatText submits a typed answer.
func (c *Client) ChatText(ctx context.Context, sessionID, text string) (*ChatResponse, error) {
	req := ChatRequest{ThreadID: sessionID, Text: text}
	var out ChatResponse
	if err := c.do(ctx, c.controlTimeout, http.MethodPost, "/chat", sessionID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatAudio submits a recorded answer clip. Uses the longer audio timeout
// since the backend transcribes before answering.
func (c *Client) ChatAudio(ctx context.Context, sessionID string, clip []byte) (*ChatResponse, error) {
	req := ChatRequest{
		ThreadID:  sessionID,
		AudioData: base64.StdEncoding.EncodeToString(clip),
	}
	var out ChatResponse
	if err := c.do(ctx, c.audioTimeout, http.MethodPost, "/chat", sessionID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Progress fetches the authoritative progress snapshot.
func (c *Client) Progress(ctx context.Context, sessionID string) (*ProgressResponse, error) {
	var out ProgressResponse
	if err := c.do(ctx, c.controlTimeout, http.MethodGet, "/progress", sessionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cleanup tells the backend to discard session state. Best-effort: callers
// log and swallow the error, they never surface it as blocking.
func (c *Client) Cleanup(ctx context.Context, sessionID string) error {
	return c.do(ctx, c.healthTimeout, http.MethodPost, "/cleanup", sessionID, CleanupRequest{SessionID: sessionID}, nil)
}

// do performs one bounded request and decodes the response into out (when
// non-nil). All transport failures are normalized to *viva.BackendError.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path, sessionID string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &viva.BackendError{Body: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &viva.BackendError{Body: fmt.Sprintf("build request: %v", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn().Str("path", path).Dur("timeout", timeout).Msg("Backend request timed out")
			return &viva.BackendError{Body: "request timed out"}
		}
		return &viva.BackendError{Body: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &viva.BackendError{Status: resp.StatusCode, Body: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("Backend returned non-success status")
		return &viva.BackendError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &viva.BackendError{Status: resp.StatusCode, Body: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}
