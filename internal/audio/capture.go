// Package audio implements microphone capture behind ports.AudioCapture.
//
// Two devices are available. StreamCapture accumulates an encoded webm/opus
// stream in memory, mirroring browser MediaRecorder capture. FileCapture
// records an m4a file and reads it back, mirroring native device recorders.
// Both hand off the same domain.AudioPayload shape.
package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"drivemail/internal/ports"
)

// Capture modes accepted by New.
const (
	ModeStream = "stream"
	ModeFile   = "file"
)

var (
	_ ports.AudioCapture = (*StreamCapture)(nil)
	_ ports.AudioCapture = (*FileCapture)(nil)
)

// New returns the capture device for mode.
func New(mode string, cfg Config, chunkSize int, logger *slog.Logger) (ports.AudioCapture, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeStream:
		return NewStreamCapture(cfg, chunkSize, logger), nil
	case ModeFile:
		return NewFileCapture(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q (want %s or %s)", mode, ModeStream, ModeFile)
	}
}
