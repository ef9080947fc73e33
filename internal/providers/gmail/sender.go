// Package gmail sends confirmed drafts through the Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

const (
	DefaultAPIBaseURL = "https://gmail.googleapis.com/gmail/v1"
	sendPath          = "/users/me/messages/send"
	maxErrorBody      = 16 << 10
)

var _ ports.MailSender = (*Sender)(nil)

// Config controls the Gmail client.
type Config struct {
	APIBaseURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Sender implements ports.MailSender.
type Sender struct {
	baseURL string
	http    *http.Client
	tokens  *TokenStore
	logger  *slog.Logger
}

func NewSender(cfg Config, tokens *TokenStore, logger *slog.Logger) *Sender {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = DefaultAPIBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if tokens == nil {
		tokens = NewTokenStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{baseURL: base, http: hc, tokens: tokens, logger: logger.With("component", "gmail")}
}

// Send posts the draft as a raw message. Without a token it fails with
// domain.ErrNotAuthenticated before touching the network.
func (s *Sender) Send(ctx context.Context, draft domain.Draft) error {
	token, ok := s.tokens.Token()
	if !ok {
		return fmt.Errorf("gmail send: %w", domain.ErrNotAuthenticated)
	}
	if strings.TrimSpace(draft.To) == "" {
		return fmt.Errorf("gmail send: %w: draft has no recipient", domain.ErrSendFailed)
	}

	body, err := json.Marshal(map[string]string{"raw": EncodeRaw(BuildMessage(draft))})
	if err != nil {
		return fmt.Errorf("gmail send: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gmail send: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("gmail send: %w: %w", domain.ErrSendFailed, &domain.RequestError{Op: "gmail send", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		var sent struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&sent)
		s.logger.Info("message sent", "message_id", sent.ID)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := providerMessage(raw)
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("gmail send: %w: %s", domain.ErrNotAuthenticated, message)
	}
	return fmt.Errorf("gmail send: %w: %w", domain.ErrSendFailed,
		&domain.RequestError{Op: "gmail send", Status: resp.StatusCode, Detail: message})
}

// providerMessage surfaces error.message from a Google API error body.
func providerMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return "failed to send email"
}
