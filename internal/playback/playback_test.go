package playback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

func TestCommandSpeakerStopsPreviousBeforeStarting(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "tts.sh", "#!/usr/bin/env bash\nexec sleep 5\n")
	speaker := NewCommandSpeaker(CommandConfig{Command: script}, nil)

	first, err := speaker.Play(context.Background(), "eins")
	if err != nil {
		t.Fatalf("first play failed: %v", err)
	}
	second, err := speaker.Play(context.Background(), "zwei")
	if err != nil {
		t.Fatalf("second play failed: %v", err)
	}
	defer speaker.Stop()

	if !closed(first.Done()) {
		t.Fatalf("first playback must be stopped before the second starts")
	}
	if first.Err() != nil {
		t.Fatalf("a forced stop is not a failure: %v", first.Err())
	}
	if closed(second.Done()) {
		t.Fatalf("second playback should still be running")
	}

	if err := speaker.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !closed(second.Done()) {
		t.Fatalf("stop must end the live playback")
	}
}

func TestCommandSpeakerNaturalEnd(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, "tts.sh", "#!/usr/bin/env bash\nprintf '%s|' \"$@\" > '"+out+"'\n")
	speaker := NewCommandSpeaker(CommandConfig{Command: script, Voice: "de"}, nil)

	h, err := speaker.Play(context.Background(), "Verstanden, Termin wird erstellt.")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	waitDone(t, h)
	if h.Err() != nil {
		t.Fatalf("unexpected error: %v", h.Err())
	}

	args, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if string(args) != "-v|de|Verstanden, Termin wird erstellt.|" {
		t.Fatalf("unexpected args: %q", string(args))
	}
}

func TestCommandSpeakerFailureIsPlaybackFailed(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "tts.sh", "#!/usr/bin/env bash\nexit 3\n")
	speaker := NewCommandSpeaker(CommandConfig{Command: script}, nil)

	h, err := speaker.Play(context.Background(), "hallo")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	waitDone(t, h)
	if !errors.Is(h.Err(), domain.ErrPlaybackFailed) {
		t.Fatalf("expected ErrPlaybackFailed, got %v", h.Err())
	}
}

func TestCommandSpeakerMissingCommand(t *testing.T) {
	t.Parallel()

	speaker := NewCommandSpeaker(CommandConfig{Command: filepath.Join(t.TempDir(), "missing")}, nil)
	if _, err := speaker.Play(context.Background(), "hallo"); !errors.Is(err, domain.ErrPlaybackFailed) {
		t.Fatalf("expected ErrPlaybackFailed, got %v", err)
	}
}

func TestCommandSpeakerCancelStopsPlayback(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "tts.sh", "#!/usr/bin/env bash\nexec sleep 5\n")
	speaker := NewCommandSpeaker(CommandConfig{Command: script}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := speaker.Play(ctx, "hallo")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	cancel()
	waitDone(t, h)
	if h.Err() != nil {
		t.Fatalf("cancellation is not a failure: %v", h.Err())
	}
}

func TestHandleStopIsIdempotent(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "tts.sh", "#!/usr/bin/env bash\nexec sleep 5\n")
	speaker := NewCommandSpeaker(CommandConfig{Command: script}, nil)
	h, err := speaker.Play(context.Background(), "hallo")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.Stop(); err != nil {
			t.Fatalf("stop %d failed: %v", i, err)
		}
	}
	if err := speaker.Stop(); err != nil {
		t.Fatalf("speaker stop after handle stop failed: %v", err)
	}
}

func TestOpenAISpeakerStreamsSynthesizedAudio(t *testing.T) {
	t.Parallel()

	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = io.WriteString(w, "mp3-bytes")
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "played.mp3")
	player := writeScript(t, "ffplay.sh", "#!/usr/bin/env bash\ncat > '"+out+"'\n")

	speaker, err := NewOpenAISpeaker(OpenAIConfig{
		APIKey:        "sk-test",
		BaseURL:       server.URL + "/v1/",
		Voice:         "nova",
		PlayerCommand: player,
	}, nil)
	if err != nil {
		t.Fatalf("new speaker: %v", err)
	}

	h, err := speaker.Play(context.Background(), "Verstanden, Termin wird erstellt.")
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	waitDone(t, h)
	if h.Err() != nil {
		t.Fatalf("unexpected error: %v", h.Err())
	}

	played, err := os.ReadFile(out)
	if err != nil || string(played) != "mp3-bytes" {
		t.Fatalf("player did not receive audio: %q (%v)", string(played), err)
	}
	if got["input"] != "Verstanden, Termin wird erstellt." || got["voice"] != "nova" || got["model"] != DefaultOpenAIModel {
		t.Fatalf("unexpected request: %v", got)
	}
	if got["response_format"] != "mp3" {
		t.Fatalf("unexpected format: %v", got["response_format"])
	}
}

func TestOpenAISpeakerSynthesisFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down"}}`)
	}))
	defer server.Close()

	speaker, err := NewOpenAISpeaker(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1/", PlayerCommand: "true"}, nil)
	if err != nil {
		t.Fatalf("new speaker: %v", err)
	}
	if _, err := speaker.Play(context.Background(), "hallo"); !errors.Is(err, domain.ErrPlaybackFailed) {
		t.Fatalf("expected ErrPlaybackFailed, got %v", err)
	}
}

func TestNewOpenAISpeakerRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAISpeaker(OpenAIConfig{}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func waitDone(t *testing.T, h ports.PlaybackHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("playback did not finish")
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
