// Package auth turns the opaque token from the sign-in screen into what the
// rest of the app needs: a profile for display, a backend user id for the
// orchestrator, and the stored token for the mail sender.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"drivemail/internal/domain"
)

const DefaultUserInfoURL = "https://www.googleapis.com/userinfo/v2/me"

// TokenExchanger trades the token for a backend-issued user id.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, token string) (string, error)
}

// TokenSink keeps the token for collaborators that act on the user's behalf.
type TokenSink interface {
	Set(token string)
	Clear()
}

// Config controls the profile lookup.
type Config struct {
	UserInfoURL string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Result is what a successful handoff yields.
type Result struct {
	Profile domain.Profile
	UserID  string
}

// Handoff performs the one-time token exchange.
type Handoff struct {
	userInfoURL string
	http        *http.Client
	backend     TokenExchanger
	tokens      TokenSink
	logger      *slog.Logger
}

func NewHandoff(cfg Config, backend TokenExchanger, tokens TokenSink, logger *slog.Logger) *Handoff {
	url := strings.TrimSpace(cfg.UserInfoURL)
	if url == "" {
		url = DefaultUserInfoURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handoff{
		userInfoURL: url,
		http:        hc,
		backend:     backend,
		tokens:      tokens,
		logger:      logger.With("component", "auth"),
	}
}

// Exchange looks up the profile and the backend user id concurrently. The
// token is stored only when both succeed.
func (h *Handoff) Exchange(ctx context.Context, token string) (Result, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Result{}, domain.ErrNotAuthenticated
	}

	var (
		profile domain.Profile
		userID  string
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		p, err := h.fetchProfile(egCtx, token)
		if err != nil {
			return fmt.Errorf("auth: profile lookup: %w", err)
		}
		profile = p
		return nil
	})

	eg.Go(func() error {
		id, err := h.backend.ExchangeToken(egCtx, token)
		if err != nil {
			return fmt.Errorf("auth: backend exchange: %w", err)
		}
		userID = id
		return nil
	})

	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	h.tokens.Set(token)
	h.logger.Info("signed in", "user_id", userID)
	return Result{Profile: profile, UserID: userID}, nil
}

// Forget drops the stored token.
func (h *Handoff) Forget() {
	h.tokens.Clear()
}

type userInfo struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	GivenName string `json:"given_name"`
	Picture   string `json:"picture"`
}

func (h *Handoff) fetchProfile(ctx context.Context, token string) (domain.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.userInfoURL, nil)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.http.Do(req)
	if err != nil {
		return domain.Profile{}, &domain.RequestError{Op: "userinfo", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.Profile{}, domain.ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return domain.Profile{}, &domain.RequestError{Op: "userinfo", Status: resp.StatusCode}
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return domain.Profile{}, &domain.RequestError{Op: "userinfo", Status: resp.StatusCode, Err: err}
	}
	if info.Email == "" {
		return domain.Profile{}, errors.New("userinfo response has no email")
	}
	return domain.Profile{
		Email:     info.Email,
		Name:      info.Name,
		GivenName: info.GivenName,
		Picture:   info.Picture,
	}, nil
}
