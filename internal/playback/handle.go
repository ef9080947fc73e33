// Package playback speaks assistant replies through a local player process.
// Each speaker owns at most one live handle and force-stops it before the
// next reply starts.
package playback

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

const stopWait = 2 * time.Second

var _ ports.PlaybackHandle = (*handle)(nil)

// handle is one running player process.
type handle struct {
	cmd         *exec.Cmd
	cleanup     func()
	cleanupOnce sync.Once
	done        chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

// start launches cmd and watches it until exit. cleanup runs once, when the
// process exits or when Stop is called, whichever comes first.
func start(cmd *exec.Cmd, cleanup func()) (*handle, error) {
	if err := cmd.Start(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("%w: start %s: %v", domain.ErrPlaybackFailed, cmd.Path, err)
	}
	if cleanup == nil {
		cleanup = func() {}
	}
	h := &handle{cmd: cmd, cleanup: cleanup, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

func (h *handle) wait() {
	err := h.cmd.Wait()
	h.release()

	h.mu.Lock()
	if err != nil && !h.stopped {
		h.err = fmt.Errorf("%w: %v", domain.ErrPlaybackFailed, err)
	}
	h.mu.Unlock()
	close(h.done)
}

// Stop kills the player and waits for it to exit. Safe to call repeatedly.
func (h *handle) Stop() error {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return nil
	default:
	}
	h.stopped = true
	h.mu.Unlock()

	h.release()
	if h.cmd.Process != nil {
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("stop player: %w", err)
		}
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(stopWait):
		return errors.New("stop player: process did not exit")
	}
}

func (h *handle) release() {
	h.cleanupOnce.Do(h.cleanup)
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// slot holds the single live handle of a speaker.
type slot struct {
	mu      sync.Mutex
	current *handle
}

// swap installs next and returns the handle it replaced.
func (s *slot) swap(next *handle) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next
	return prev
}

func (s *slot) stop() error {
	prev := s.swap(nil)
	if prev == nil {
		return nil
	}
	return prev.Stop()
}
