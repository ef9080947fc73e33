package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

const (
	DefaultOpenAIModel   = "tts-1"
	DefaultOpenAIVoice   = "alloy"
	DefaultPlayerCommand = "ffplay"
)

var _ ports.Speaker = (*OpenAISpeaker)(nil)

// OpenAIConfig controls speech synthesis and the local player.
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Voice         string
	PlayerCommand string
	Timeout       time.Duration
}

// OpenAISpeaker synthesizes replies with the OpenAI speech endpoint and
// streams the MP3 into a player reading from stdin.
type OpenAISpeaker struct {
	client oai.Client
	model  string
	voice  string
	player string
	logger *slog.Logger

	playMu sync.Mutex
	slot   slot
}

func NewOpenAISpeaker(cfg OpenAIConfig, logger *slog.Logger) (*OpenAISpeaker, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai speech: apiKey must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultOpenAIVoice
	}
	if cfg.PlayerCommand == "" {
		cfg.PlayerCommand = DefaultPlayerCommand
	}
	if logger == nil {
		logger = slog.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAISpeaker{
		client: oai.NewClient(reqOpts...),
		model:  cfg.Model,
		voice:  cfg.Voice,
		player: cfg.PlayerCommand,
		logger: logger.With("component", "playback", "provider", "openai"),
	}, nil
}

func (s *OpenAISpeaker) Play(ctx context.Context, text string) (ports.PlaybackHandle, error) {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	if err := s.slot.stop(); err != nil {
		s.logger.Warn("previous playback did not stop cleanly", "err", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("playback: empty text")
	}

	// The audio body outlives Play, so it gets its own context that the
	// handle cancels on exit.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopSynthesis := context.AfterFunc(ctx, cancel)

	resp, err := s.client.Audio.Speech.New(streamCtx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	stopSynthesis()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: synthesize speech: %v", domain.ErrPlaybackFailed, err)
	}

	cmd := exec.Command(s.player, "-nodisp", "-autoexit", "-loglevel", "quiet", "-i", "pipe:0")
	cmd.Stdin = resp.Body
	cmd.WaitDelay = time.Second
	h, err := start(cmd, func() {
		cancel()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	})
	if err != nil {
		return nil, err
	}
	s.slot.swap(h)
	stopOnCancel(ctx, h)
	s.logger.Debug("playback started", "model", s.model, "voice", s.voice, "chars", len(text))
	return h, nil
}

func (s *OpenAISpeaker) Stop() error {
	return s.slot.stop()
}
