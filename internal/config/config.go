package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider and mode names accepted by Validate.
const (
	TranscriptionBackend  = "backend"
	TranscriptionDeepgram = "deepgram"

	AudioStream = "stream"
	AudioFile   = "file"

	PlaybackCommand = "command"
	PlaybackOpenAI  = "openai"

	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
)

// Config stores runtime configuration for the desktop client.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Gmail         GmailConfig         `yaml:"gmail"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	Log           LogConfig           `yaml:"log"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type TranscriptionConfig struct {
	Provider string         `yaml:"provider"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base_url"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

type AudioConfig struct {
	Mode            string `yaml:"mode"`
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type PlaybackConfig struct {
	Provider string       `yaml:"provider"`
	Command  string       `yaml:"command"`
	Voice    string       `yaml:"voice"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

type OpenAIConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	Voice         string `yaml:"voice"`
	PlayerCommand string `yaml:"player_command"`
}

type GmailConfig struct {
	APIBaseURL string        `yaml:"api_base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	UserInfoURL string        `yaml:"userinfo_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	// SuccessDisplay is how long a sent confirmation stays up. Negative
	// returns to idle at once.
	SuccessDisplay time.Duration `yaml:"success_display"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Exporter   string `yaml:"exporter"`
	ListenAddr string `yaml:"listen_addr"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Transcription: TranscriptionConfig{
			Provider: TranscriptionBackend,
			Deepgram: DeepgramConfig{
				APIBaseURL:  "https://api.deepgram.com/v1",
				Model:       "nova-2",
				SmartFormat: true,
			},
		},
		Audio: AudioConfig{
			Mode:            AudioFile,
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
		Playback: PlaybackConfig{
			Provider: PlaybackCommand,
			Command:  "espeak-ng",
			OpenAI: OpenAIConfig{
				Model:         "tts-1",
				Voice:         "alloy",
				PlayerCommand: "ffplay",
			},
		},
		Gmail: GmailConfig{
			APIBaseURL: "https://gmail.googleapis.com/gmail/v1",
			Timeout:    30 * time.Second,
		},
		Auth: AuthConfig{
			UserInfoURL: "https://www.googleapis.com/userinfo/v2/me",
			Timeout:     15 * time.Second,
		},
		Session: SessionConfig{
			SuccessDisplay: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Exporter:   MetricsNone,
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file named by
// DRIVEMAIL_CONFIG_FILE and the environment, in that order. A .env file in
// the working directory is loaded first; variables already set win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("DRIVEMAIL_CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current value.
func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.BaseURL = envOrDefault("DRIVEMAIL_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Timeout = envOrDefaultDuration("DRIVEMAIL_BACKEND_TIMEOUT", cfg.Backend.Timeout)

	cfg.Transcription.Provider = envOrDefault("DRIVEMAIL_TRANSCRIPTION_PROVIDER", cfg.Transcription.Provider)
	dg := &cfg.Transcription.Deepgram
	dg.APIKey = envOrDefault("DEEPGRAM_API_KEY", dg.APIKey)
	dg.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", dg.APIBaseURL)
	dg.Model = envOrDefault("DEEPGRAM_MODEL", dg.Model)
	dg.Language = envOrDefault("DEEPGRAM_LANGUAGE", dg.Language)
	dg.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", dg.SmartFormat)

	cfg.Audio.Mode = envOrDefault("DRIVEMAIL_AUDIO_MODE", cfg.Audio.Mode)
	cfg.Audio.RecorderCommand = envOrDefault("DRIVEMAIL_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("DRIVEMAIL_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("DRIVEMAIL_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("DRIVEMAIL_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("DRIVEMAIL_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("DRIVEMAIL_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)

	cfg.Playback.Provider = envOrDefault("DRIVEMAIL_PLAYBACK_PROVIDER", cfg.Playback.Provider)
	cfg.Playback.Command = envOrDefault("DRIVEMAIL_TTS_COMMAND", cfg.Playback.Command)
	cfg.Playback.Voice = envOrDefault("DRIVEMAIL_TTS_VOICE", cfg.Playback.Voice)
	oa := &cfg.Playback.OpenAI
	oa.APIKey = envOrDefault("OPENAI_API_KEY", oa.APIKey)
	oa.BaseURL = envOrDefault("OPENAI_BASE_URL", oa.BaseURL)
	oa.Model = envOrDefault("DRIVEMAIL_OPENAI_TTS_MODEL", oa.Model)
	oa.Voice = envOrDefault("DRIVEMAIL_OPENAI_TTS_VOICE", oa.Voice)
	oa.PlayerCommand = envOrDefault("DRIVEMAIL_PLAYER_COMMAND", oa.PlayerCommand)

	cfg.Gmail.APIBaseURL = envOrDefault("DRIVEMAIL_GMAIL_API_BASE", cfg.Gmail.APIBaseURL)
	cfg.Gmail.Timeout = envOrDefaultDuration("DRIVEMAIL_GMAIL_TIMEOUT", cfg.Gmail.Timeout)
	cfg.Auth.UserInfoURL = envOrDefault("DRIVEMAIL_USERINFO_URL", cfg.Auth.UserInfoURL)
	cfg.Auth.Timeout = envOrDefaultDuration("DRIVEMAIL_AUTH_TIMEOUT", cfg.Auth.Timeout)

	cfg.Session.SuccessDisplay = envOrDefaultDuration("DRIVEMAIL_SUCCESS_DISPLAY", cfg.Session.SuccessDisplay)

	cfg.Log.Level = envOrDefault("DRIVEMAIL_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("DRIVEMAIL_LOG_FORMAT", cfg.Log.Format)

	cfg.Metrics.Exporter = envOrDefault("DRIVEMAIL_METRICS_EXPORTER", cfg.Metrics.Exporter)
	cfg.Metrics.ListenAddr = envOrDefault("DRIVEMAIL_METRICS_ADDR", cfg.Metrics.ListenAddr)
}

// normalize repairs values that have a safe fallback instead of failing.
func normalize(cfg *Config) {
	cfg.Transcription.Provider = strings.ToLower(strings.TrimSpace(cfg.Transcription.Provider))
	cfg.Audio.Mode = strings.ToLower(strings.TrimSpace(cfg.Audio.Mode))
	cfg.Playback.Provider = strings.ToLower(strings.TrimSpace(cfg.Playback.Provider))
	cfg.Metrics.Exporter = strings.ToLower(strings.TrimSpace(cfg.Metrics.Exporter))

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
}

// Validate reports every incoherent setting at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		errs = append(errs, errors.New("backend.base_url must not be empty"))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %s must not be negative", c.Backend.Timeout))
	}

	switch c.Transcription.Provider {
	case TranscriptionBackend:
	case TranscriptionDeepgram:
		if c.Transcription.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("transcription.deepgram.api_key is required (set DEEPGRAM_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcription.provider %q is invalid; valid values: %s, %s",
			c.Transcription.Provider, TranscriptionBackend, TranscriptionDeepgram))
	}

	switch c.Audio.Mode {
	case AudioStream, AudioFile:
	default:
		errs = append(errs, fmt.Errorf("audio.mode %q is invalid; valid values: %s, %s", c.Audio.Mode, AudioStream, AudioFile))
	}

	switch c.Playback.Provider {
	case PlaybackCommand:
		if strings.TrimSpace(c.Playback.Command) == "" {
			errs = append(errs, errors.New("playback.command must not be empty"))
		}
	case PlaybackOpenAI:
		if c.Playback.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("playback.openai.api_key is required (set OPENAI_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("playback.provider %q is invalid; valid values: %s, %s",
			c.Playback.Provider, PlaybackCommand, PlaybackOpenAI))
	}

	switch c.Metrics.Exporter {
	case "", MetricsNone, MetricsPrometheus:
	default:
		errs = append(errs, fmt.Errorf("metrics.exporter %q is invalid; valid values: %s, %s",
			c.Metrics.Exporter, MetricsNone, MetricsPrometheus))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", c.Log.Format))
	}

	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts a Go duration ("1500ms") or bare milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
