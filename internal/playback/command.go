package playback

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"drivemail/internal/ports"
)

var _ ports.Speaker = (*CommandSpeaker)(nil)

// CommandConfig selects a system text-to-speech command such as espeak-ng or say.
type CommandConfig struct {
	Command string
	Voice   string
}

// CommandSpeaker speaks through a TTS command that takes the text as its last
// argument.
type CommandSpeaker struct {
	cfg    CommandConfig
	logger *slog.Logger

	playMu sync.Mutex
	slot   slot
}

func NewCommandSpeaker(cfg CommandConfig, logger *slog.Logger) *CommandSpeaker {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "espeak-ng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSpeaker{cfg: cfg, logger: logger.With("component", "playback")}
}

func (s *CommandSpeaker) Play(ctx context.Context, text string) (ports.PlaybackHandle, error) {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	if err := s.slot.stop(); err != nil {
		s.logger.Warn("previous playback did not stop cleanly", "err", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("playback: empty text")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := []string{}
	if s.cfg.Voice != "" {
		args = append(args, "-v", s.cfg.Voice)
	}
	args = append(args, text)

	h, err := start(exec.Command(s.cfg.Command, args...), nil)
	if err != nil {
		return nil, err
	}
	s.slot.swap(h)
	stopOnCancel(ctx, h)
	s.logger.Debug("playback started", "command", s.cfg.Command, "chars", len(text))
	return h, nil
}

func (s *CommandSpeaker) Stop() error {
	return s.slot.stop()
}

// stopOnCancel ties the handle to ctx until the player exits.
func stopOnCancel(ctx context.Context, h *handle) {
	stop := context.AfterFunc(ctx, func() { _ = h.Stop() })
	go func() {
		<-h.Done()
		stop()
	}()
}
