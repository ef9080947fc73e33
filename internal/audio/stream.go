package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"drivemail/internal/domain"
)

const defaultChunkSize = 4096

// StreamCapture records an encoded stream and accumulates its chunks in
// memory, joining them into one payload only when recording stops.
type StreamCapture struct {
	rec       recorder
	chunkSize int

	mu     sync.Mutex
	handle *streamHandle
}

type streamHandle struct {
	startedAt time.Time
	proc      *process

	chunksMu sync.Mutex
	chunks   [][]byte
	readErr  error
	pumpDone chan struct{}
}

func NewStreamCapture(cfg Config, chunkSize int, logger *slog.Logger) *StreamCapture {
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}
	return &StreamCapture{rec: newRecorder(cfg, logger), chunkSize: chunkSize}
}

func (c *StreamCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return domain.ErrAlreadyRecording
	}

	proc, err := c.rec.launch(ctx, []string{"-c:a", "libopus", "-f", "webm", "-"}, true)
	if err != nil {
		return err
	}

	handle := &streamHandle{
		startedAt: time.Now(),
		proc:      proc,
		pumpDone:  make(chan struct{}),
	}
	go handle.pump(c.chunkSize)
	c.handle = handle
	return nil
}

func (c *StreamCapture) Stop(_ context.Context) (domain.AudioPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.handle
	if handle == nil {
		return domain.AudioPayload{}, domain.ErrNothingToStop
	}
	defer func() { c.handle = nil }()

	stopErr := handle.proc.stop()
	<-handle.pumpDone
	closeErr := handle.proc.closeOutput()

	chunks, readErr := handle.snapshot()
	c.rec.logger.Debug("stream recording stopped",
		"chunks", len(chunks),
		"duration", time.Since(handle.startedAt).String(),
	)
	if err := errors.Join(stopErr, readErr, closeErr); err != nil && len(chunks) == 0 {
		return domain.AudioPayload{}, fmt.Errorf("stop stream recording: %w", err)
	}
	return payloadFromChunks(chunks, StreamContentType, StreamFilename), nil
}

func (c *StreamCapture) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.handle
	if handle == nil {
		return domain.ErrNothingToStop
	}
	c.handle = nil

	handle.proc.kill()
	err := handle.proc.closeOutput()
	<-handle.pumpDone
	return err
}

func (c *StreamCapture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// pump copies encoder output into the chunk list until the pipe closes.
func (h *streamHandle) pump(chunkSize int) {
	defer close(h.pumpDone)

	buf := make([]byte, chunkSize)
	for {
		n, err := h.proc.stdout.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			h.chunksMu.Lock()
			h.chunks = append(h.chunks, chunk)
			h.chunksMu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				h.chunksMu.Lock()
				h.readErr = fmt.Errorf("read recorder output: %w", err)
				h.chunksMu.Unlock()
			}
			return
		}
	}
}

func (h *streamHandle) snapshot() ([][]byte, error) {
	h.chunksMu.Lock()
	defer h.chunksMu.Unlock()
	return h.chunks, h.readErr
}
