package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

func TestStreamCaptureStartStopJoinsChunks(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "stream.sh", "#!/usr/bin/env bash\nprintf 'web'\nprintf 'm-bytes'\nexec sleep 5\n")
	capture := NewStreamCapture(Config{Command: script}, 256, nil)

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !capture.Recording() {
		t.Fatalf("expected live recording")
	}

	payload, err := capture.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if string(payload.Data) != "webm-bytes" {
		t.Fatalf("unexpected payload: %q", string(payload.Data))
	}
	if payload.ContentType != StreamContentType || payload.Filename != StreamFilename {
		t.Fatalf("unexpected payload metadata: %q %q", payload.ContentType, payload.Filename)
	}
	if capture.Recording() {
		t.Fatalf("expected recording to be released")
	}
}

func TestCaptureRejectsSecondStart(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "idle.sh", "#!/usr/bin/env bash\nexec sleep 5\n")

	for name, capture := range map[string]ports.AudioCapture{
		"stream": NewStreamCapture(Config{Command: script}, 0, nil),
		"file":   NewFileCapture(Config{Command: script, TempDir: t.TempDir()}, nil),
	} {
		if err := capture.Start(context.Background()); err != nil {
			t.Fatalf("%s: start failed: %v", name, err)
		}
		if err := capture.Start(context.Background()); !errors.Is(err, domain.ErrAlreadyRecording) {
			t.Fatalf("%s: expected ErrAlreadyRecording, got %v", name, err)
		}
		if !capture.Recording() {
			t.Fatalf("%s: the first recording must stay live", name)
		}
		if err := capture.Discard(); err != nil {
			t.Fatalf("%s: discard failed: %v", name, err)
		}
	}
}

func TestCaptureStopWithoutRecording(t *testing.T) {
	t.Parallel()

	for name, capture := range map[string]ports.AudioCapture{
		"stream": NewStreamCapture(Config{Command: "unused"}, 0, nil),
		"file":   NewFileCapture(Config{Command: "unused", TempDir: t.TempDir()}, nil),
	} {
		if _, err := capture.Stop(context.Background()); !errors.Is(err, domain.ErrNothingToStop) {
			t.Fatalf("%s: expected ErrNothingToStop, got %v", name, err)
		}
		if err := capture.Discard(); !errors.Is(err, domain.ErrNothingToStop) {
			t.Fatalf("%s: expected ErrNothingToStop from discard, got %v", name, err)
		}
	}
}

func TestCaptureStopAfterDiscardHasNothingToStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "idle.sh", "#!/usr/bin/env bash\nexec sleep 5\n")

	for name, capture := range map[string]ports.AudioCapture{
		"stream": NewStreamCapture(Config{Command: script}, 0, nil),
		"file":   NewFileCapture(Config{Command: script, TempDir: t.TempDir()}, nil),
	} {
		if err := capture.Start(context.Background()); err != nil {
			t.Fatalf("%s: start failed: %v", name, err)
		}
		if err := capture.Discard(); err != nil {
			t.Fatalf("%s: discard failed: %v", name, err)
		}
		if _, err := capture.Stop(context.Background()); !errors.Is(err, domain.ErrNothingToStop) {
			t.Fatalf("%s: expected ErrNothingToStop after discard, got %v", name, err)
		}
	}
}

func TestStreamCaptureDiscardReleasesHandle(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "stream.sh", "#!/usr/bin/env bash\nprintf 'abc'\nexec sleep 5\n")
	capture := NewStreamCapture(Config{Command: script}, 0, nil)

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := capture.Discard(); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if capture.Recording() {
		t.Fatalf("expected no live recording after discard")
	}
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("restart after discard failed: %v", err)
	}
	_ = capture.Discard()
}

func TestCaptureStartPermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "denied.sh", "#!/usr/bin/env bash\necho 'default: Permission denied' 1>&2\nexit 1\n")

	for name, capture := range map[string]interface {
		Start(context.Context) error
		Recording() bool
	}{
		"stream": NewStreamCapture(Config{Command: script}, 0, nil),
		"file":   NewFileCapture(Config{Command: script, TempDir: t.TempDir()}, nil),
	} {
		err := capture.Start(context.Background())
		if !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("%s: expected ErrPermissionDenied, got %v", name, err)
		}
		if capture.Recording() {
			t.Fatalf("%s: expected no recording after permission denial", name)
		}
	}
}

func TestCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	capture := NewStreamCapture(Config{Command: script}, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := capture.Start(ctx)
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("generic failure must not look like a permission denial: %v", err)
	}
	if !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileCaptureStopReadsAndRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, "file.sh", "#!/usr/bin/env bash\nout=\"${@: -1}\"\nprintf 'm4a-bytes' > \"$out\"\nexec sleep 5\n")
	capture := NewFileCapture(Config{Command: script, TempDir: dir}, nil)

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	payload, err := capture.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if string(payload.Data) != "m4a-bytes" {
		t.Fatalf("unexpected payload: %q", string(payload.Data))
	}
	if payload.ContentType != FileContentType || payload.Filename != FileFilename {
		t.Fatalf("unexpected payload metadata: %q %q", payload.ContentType, payload.Filename)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "drivemail-*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected recording file to be removed, found %v", leftovers)
	}
}

func TestFileCaptureDiscardRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, "file.sh", "#!/usr/bin/env bash\nout=\"${@: -1}\"\nprintf 'x' > \"$out\"\nexec sleep 5\n")
	capture := NewFileCapture(Config{Command: script, TempDir: dir}, nil)

	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := capture.Discard(); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "drivemail-*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected recording file to be removed, found %v", leftovers)
	}
}

func TestNewSelectsMode(t *testing.T) {
	t.Parallel()

	if c, err := New("", Config{}, 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if _, ok := c.(*StreamCapture); !ok {
		t.Fatalf("expected stream capture by default, got %T", c)
	}
	if c, err := New("FILE", Config{}, 0, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if _, ok := c.(*FileCapture); !ok {
		t.Fatalf("expected file capture, got %T", c)
	}
	if _, err := New("tape", Config{}, 0, nil); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestNormalizePayloadDefaults(t *testing.T) {
	t.Parallel()

	p := normalizePayload([]byte("x"), "", "clip.WAV")
	if p.ContentType != "audio/wav" {
		t.Fatalf("expected content type derived from extension, got %q", p.ContentType)
	}
	p = normalizePayload(nil, "", "")
	if p.Filename != "recording" || p.ContentType != "application/octet-stream" {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if !p.Empty() {
		t.Fatalf("expected empty payload")
	}
}

func TestPayloadFromFileMissingIsEmpty(t *testing.T) {
	t.Parallel()

	p, err := payloadFromFile(filepath.Join(t.TempDir(), "missing.m4a"), FileContentType, FileFilename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Empty() {
		t.Fatalf("expected empty payload for missing file")
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestPermissionRefused(t *testing.T) {
	t.Parallel()

	if !permissionRefused("[pulse] Operation NOT permitted") {
		t.Fatalf("expected permission marker match")
	}
	if permissionRefused("Input/output error") {
		t.Fatalf("unexpected permission match")
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
