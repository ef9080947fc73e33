package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"drivemail/internal/domain"
)

const (
	startupWindow = 250 * time.Millisecond
	stopGrace     = 1200 * time.Millisecond
)

// Config describes how the microphone should be captured.
type Config struct {
	Command     string
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	TempDir     string
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	return c
}

// inputArgs are shared by both capture modes; callers append encoder and sink.
func (c Config) inputArgs() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.InputFormat,
		"-i", c.InputDevice,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
	}
}

// recorder launches ffmpeg processes for one capture device.
type recorder struct {
	cfg    Config
	logger *slog.Logger
}

func newRecorder(cfg Config, logger *slog.Logger) recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return recorder{cfg: cfg.withDefaults(), logger: logger}
}

// launch starts ffmpeg with the given encoder/sink arguments. When pipeStdout
// is set the encoded stream is readable from the returned process.
func (r recorder) launch(ctx context.Context, outputArgs []string, pipeStdout bool) (*process, error) {
	args := append(r.cfg.inputArgs(), outputArgs...)

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	// A plain os.Pipe keeps the read side open after Wait so buffered
	// output is still readable once the recorder exits.
	var stdout io.ReadCloser
	var writeEnd *os.File
	if pipeStdout {
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create recorder stdout pipe: %w", err)
		}
		cmd.Stdout = pw
		stdout = pr
		writeEnd = pw
	}
	if err := cmd.Start(); err != nil {
		closeQuietly(stdout, writeEnd)
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("start recorder: %w", domain.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}
	closeQuietly(writeEnd)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		closeQuietly(stdout)
		detail := trimSpace(stderr.String())
		if permissionRefused(detail) {
			return nil, fmt.Errorf("recorder refused microphone: %s: %w", detail, domain.ErrPermissionDenied)
		}
		if err != nil {
			return nil, fmt.Errorf("recorder exited before capture started: %w: %s", err, detail)
		}
		return nil, errors.New("recorder exited before capture started")
	case <-time.After(startupWindow):
	}

	r.logger.Debug("recorder started", "command", r.cfg.Command, "pid", cmd.Process.Pid)
	return &process{
		stdout:  stdout,
		stderr:  stderr,
		proc:    cmd.Process,
		waitErr: waitErr,
	}, nil
}

type process struct {
	stdout io.ReadCloser
	stderr *lockedBuffer

	proc    *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// stop interrupts the recorder so it can flush its container, then kills it
// if it has not exited within the grace period. The output pipe stays open
// until closeOutput so a reader can drain it.
func (p *process) stop() error {
	p.stopOnce.Do(func() {
		if p.proc != nil {
			_ = p.proc.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if p.proc != nil {
				_ = p.proc.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if p.stopErr != nil && p.stderr != nil {
			if detail := trimSpace(p.stderr.String()); detail != "" {
				p.stopErr = fmt.Errorf("%w: %s", p.stopErr, detail)
			}
		}
	})

	return p.stopErr
}

// kill ends the recorder without waiting for a flush.
func (p *process) kill() {
	p.stopOnce.Do(func() {
		if p.proc != nil {
			_ = p.proc.Kill()
		}
		<-p.waitErr
	})
}

func (p *process) closeOutput() error {
	if p.stdout == nil {
		return nil
	}
	if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func closeQuietly(closers ...io.Closer) {
	for _, c := range closers {
		if c == nil {
			continue
		}
		_ = c.Close()
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"not authorized",
}

func permissionRefused(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func trimSpace(input string) string {
	if input == "" {
		return input
	}
	return strings.TrimSpace(input)
}

// lockedBuffer collects stderr written by the exec copy goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
