package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"drivemail/internal/domain"
)

func TestExchangeReturnsProfileAndUserID(t *testing.T) {
	t.Parallel()

	server := newUserInfoServer(t, http.StatusOK, `{"email":"anna@example.com","name":"Anna Müller","given_name":"Anna"}`)
	defer server.Close()

	backend := &fakeExchanger{userID: "7"}
	tokens := &fakeTokens{}
	h := NewHandoff(Config{UserInfoURL: server.URL}, backend, tokens, nil)

	res, err := h.Exchange(context.Background(), " ya29.token ")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if res.UserID != "7" {
		t.Fatalf("unexpected user id: %q", res.UserID)
	}
	if res.Profile.GivenName != "Anna" || res.Profile.Email != "anna@example.com" {
		t.Fatalf("unexpected profile: %+v", res.Profile)
	}
	if backend.token != "ya29.token" {
		t.Fatalf("backend got %q", backend.token)
	}
	if tokens.get() != "ya29.token" {
		t.Fatalf("token was not stored")
	}
}

func TestExchangeRunsLookupsConcurrently(t *testing.T) {
	t.Parallel()

	profileSeen := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(profileSeen)
		_, _ = io.WriteString(w, `{"email":"anna@example.com"}`)
	}))
	defer server.Close()

	// The backend waits for the profile request, which only works if both
	// lookups are in flight together.
	backend := &fakeExchanger{userID: "7", wait: profileSeen}
	h := NewHandoff(Config{UserInfoURL: server.URL}, backend, &fakeTokens{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.Exchange(ctx, "tok"); err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
}

func TestExchangeBackendFailureKeepsTokenOut(t *testing.T) {
	t.Parallel()

	server := newUserInfoServer(t, http.StatusOK, `{"email":"anna@example.com"}`)
	defer server.Close()

	backendErr := &domain.RequestError{Op: "exchange token", Status: http.StatusBadRequest, Detail: "invalid token"}
	tokens := &fakeTokens{}
	h := NewHandoff(Config{UserInfoURL: server.URL}, &fakeExchanger{err: backendErr}, tokens, nil)

	_, err := h.Exchange(context.Background(), "tok")
	if !errors.Is(err, domain.ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}
	if tokens.get() != "" {
		t.Fatalf("token must not be stored after a failed exchange")
	}
}

func TestExchangeProfileUnauthorized(t *testing.T) {
	t.Parallel()

	server := newUserInfoServer(t, http.StatusUnauthorized, `{"error":"invalid_token"}`)
	defer server.Close()

	h := NewHandoff(Config{UserInfoURL: server.URL}, &fakeExchanger{userID: "7"}, &fakeTokens{}, nil)
	if _, err := h.Exchange(context.Background(), "tok"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestExchangeEmptyToken(t *testing.T) {
	t.Parallel()

	backend := &fakeExchanger{userID: "7"}
	h := NewHandoff(Config{}, backend, &fakeTokens{}, nil)
	if _, err := h.Exchange(context.Background(), "  "); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if backend.token != "" {
		t.Fatalf("backend must not be called")
	}
}

func TestForgetClearsToken(t *testing.T) {
	t.Parallel()

	tokens := &fakeTokens{token: "tok"}
	NewHandoff(Config{}, &fakeExchanger{}, tokens, nil).Forget()
	if tokens.get() != "" {
		t.Fatalf("expected token to be cleared")
	}
}

func newUserInfoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

type fakeExchanger struct {
	mu     sync.Mutex
	userID string
	err    error
	token  string
	wait   <-chan struct{}
}

func (f *fakeExchanger) ExchangeToken(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
	if f.wait != nil {
		select {
		case <-f.wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.userID, f.err
}

type fakeTokens struct {
	mu    sync.Mutex
	token string
}

func (f *fakeTokens) Set(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeTokens) Clear() { f.Set("") }

func (f *fakeTokens) get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}
