package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"drivemail/internal/domain"
)

// FileCapture records to a temporary file, the way native device recorders
// do, and reads the file back when recording stops.
type FileCapture struct {
	rec recorder

	mu     sync.Mutex
	handle *fileHandle
}

type fileHandle struct {
	startedAt time.Time
	proc      *process
	path      string
}

func NewFileCapture(cfg Config, logger *slog.Logger) *FileCapture {
	return &FileCapture{rec: newRecorder(cfg, logger)}
}

func (c *FileCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return domain.ErrAlreadyRecording
	}

	path, err := reserveRecordingPath(c.rec.cfg.TempDir)
	if err != nil {
		return err
	}

	proc, err := c.rec.launch(ctx, []string{"-c:a", "aac", "-f", "mp4", "-y", path}, false)
	if err != nil {
		_ = os.Remove(path)
		return err
	}

	c.handle = &fileHandle{startedAt: time.Now(), proc: proc, path: path}
	return nil
}

func (c *FileCapture) Stop(_ context.Context) (domain.AudioPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.handle
	if handle == nil {
		return domain.AudioPayload{}, domain.ErrNothingToStop
	}
	defer func() { c.handle = nil }()

	stopErr := handle.proc.stop()
	payload, readErr := payloadFromFile(handle.path, FileContentType, FileFilename)
	c.rec.logger.Debug("file recording stopped",
		"bytes", len(payload.Data),
		"duration", time.Since(handle.startedAt).String(),
	)
	if readErr != nil {
		return domain.AudioPayload{}, readErr
	}
	if stopErr != nil && payload.Empty() {
		return domain.AudioPayload{}, fmt.Errorf("stop file recording: %w", stopErr)
	}
	return payload, nil
}

func (c *FileCapture) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.handle
	if handle == nil {
		return domain.ErrNothingToStop
	}
	c.handle = nil

	handle.proc.kill()
	if err := os.Remove(handle.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove discarded recording: %w", err)
	}
	return nil
}

func (c *FileCapture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

func reserveRecordingPath(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "drivemail-*.m4a")
	if err != nil {
		return "", fmt.Errorf("create recording file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("create recording file: %w", err)
	}
	return path, nil
}
