package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"drivemail/internal/domain"
)

func TestBuildMessageLayout(t *testing.T) {
	t.Parallel()

	msg := string(BuildMessage(domain.Draft{To: "anna@example.com", Subject: "Termin", Body: "Morgen um 10 Uhr."}))
	want := "To: anna@example.com\r\n" +
		"Subject: Termin\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"Morgen um 10 Uhr."
	if msg != want {
		t.Fatalf("unexpected message:\n%q\nwant\n%q", msg, want)
	}
}

func TestBuildMessageStripsHeaderBreaks(t *testing.T) {
	t.Parallel()

	msg := string(BuildMessage(domain.Draft{To: "anna@example.com\r\nBcc: eve@example.com", Subject: "Hi"}))
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("header injection survived: %q", msg)
	}
}

func TestBuildMessageEncodesNonASCIISubject(t *testing.T) {
	t.Parallel()

	msg := string(BuildMessage(domain.Draft{To: "a@example.com", Subject: "Grüße"}))
	if !strings.Contains(msg, "Subject: =?UTF-8?b?") {
		t.Fatalf("expected encoded-word subject: %q", msg)
	}
}

func TestEncodeRawRoundTripsUTF8(t *testing.T) {
	t.Parallel()

	msg := BuildMessage(domain.Draft{
		To:      "mueller@example.com",
		Subject: "Termin",
		Body:    "Hallo Herr Müller, ich freue mich auf Ihre Antwort? >>> ÄÖÜß",
	})
	raw := EncodeRaw(msg)

	if strings.ContainsAny(raw, "+/=") {
		t.Fatalf("raw must be unpadded base64url: %q", raw)
	}
	decoded, err := DecodeRaw(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(decoded) != string(msg) {
		t.Fatalf("round trip corrupted message:\n%q\n%q", decoded, msg)
	}
	if !strings.Contains(string(decoded), "Müller") {
		t.Fatalf("expected umlaut to survive")
	}
}

func TestSendPostsRawMessageWithBearer(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotRaw string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1"+sendPath {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotRaw = body["raw"]
		_, _ = io.WriteString(w, `{"id":"18c","threadId":"18c","labelIds":["SENT"]}`)
	}))
	defer server.Close()

	tokens := NewTokenStore()
	tokens.Set("ya29.token")
	sender := NewSender(Config{APIBaseURL: server.URL + "/gmail/v1"}, tokens, nil)

	draft := domain.Draft{To: "anna@example.com", Subject: "Termin", Body: "Grüße von Müller"}
	if err := sender.Send(context.Background(), draft); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotAuth != "Bearer ya29.token" {
		t.Fatalf("unexpected authorization: %q", gotAuth)
	}
	decoded, err := DecodeRaw(gotRaw)
	if err != nil || string(decoded) != string(BuildMessage(draft)) {
		t.Fatalf("unexpected raw payload: %q (%v)", gotRaw, err)
	}
}

func TestSendWithoutTokenSkipsNetwork(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer server.Close()

	sender := NewSender(Config{APIBaseURL: server.URL}, NewTokenStore(), nil)
	err := sender.Send(context.Background(), domain.Draft{To: "anna@example.com"})
	if !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if called {
		t.Fatalf("no request expected without token")
	}
}

func TestSendSurfacesProviderMessage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"Invalid To header","status":"INVALID_ARGUMENT"}}`)
	}))
	defer server.Close()

	tokens := NewTokenStore()
	tokens.Set("tok")
	sender := NewSender(Config{APIBaseURL: server.URL}, tokens, nil)

	err := sender.Send(context.Background(), domain.Draft{To: "not-an-address"})
	if !errors.Is(err, domain.ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid To header") {
		t.Fatalf("expected provider message, got %v", err)
	}
	var reqErr *domain.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusBadRequest {
		t.Fatalf("expected status to be kept, got %v", err)
	}
}

func TestSendUnauthorizedIsNotAuthenticated(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid Credentials"}}`)
	}))
	defer server.Close()

	tokens := NewTokenStore()
	tokens.Set("expired")
	sender := NewSender(Config{APIBaseURL: server.URL}, tokens, nil)

	err := sender.Send(context.Background(), domain.Draft{To: "anna@example.com"})
	if !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestProviderMessageFallback(t *testing.T) {
	t.Parallel()

	if got := providerMessage([]byte("<html>")); got != "failed to send email" {
		t.Fatalf("unexpected fallback: %q", got)
	}
}

func TestTokenStore(t *testing.T) {
	t.Parallel()

	s := NewTokenStore()
	if _, ok := s.Token(); ok {
		t.Fatalf("expected empty store")
	}
	s.Set(" tok ")
	if tok, ok := s.Token(); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q", tok)
	}
	s.Clear()
	if _, ok := s.Token(); ok {
		t.Fatalf("expected cleared store")
	}
}
