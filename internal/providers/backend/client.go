// Package backend talks to the assistant backend: speech transcription,
// intent resolution and the server half of the sign-in handoff.
//
// Every call is one request and one response. Nothing is retried; a failed
// call surfaces as *domain.RequestError and the user starts a new turn.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"drivemail/internal/domain"
)

const (
	transcribePath = "/speech/transcribe"
	intentPath     = "/intent/find_user_intent"
	authPath       = "/auth/google"

	maxErrorBody = 4 << 10
)

// Config controls the backend HTTP client.
type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero keeps the transport default.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements ports.Transcriber and ports.IntentResolver.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	// issued maps user ids handed out by ExchangeToken to their raw JSON.
	idMu   sync.Mutex
	issued map[string]json.RawMessage
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		http:    hc,
		logger:  logger.With("component", "backend"),
		issued:  make(map[string]json.RawMessage),
	}, nil
}

func (c *Client) postJSON(ctx context.Context, op string, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Client) do(op string, req *http.Request, out any) error {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call", "op", op, "status", resp.StatusCode, "elapsed", time.Since(started).String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.RequestError{Op: op, Status: resp.StatusCode, Detail: errorDetail(raw)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.RequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.RequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("parse JSON response: %w", err)}
	}
	return nil
}

// errorDetail pulls a readable message out of an error body. FastAPI style
// {"detail": ...} is tried first.
func errorDetail(raw []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		var detail string
		if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if len(body.Detail) > 0 && string(body.Detail) != "null" {
			return string(body.Detail)
		}
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
