// Package deepgram transcribes recorded payloads over the Deepgram
// websocket listen API. Each payload gets its own connection: the audio is
// streamed, the stream is closed, and the final segments are joined.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

const sendChunkSize = 8192

var _ ports.Transcriber = (*Transcriber)(nil)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

// Transcriber implements ports.Transcriber for Deepgram.
type Transcriber struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewTranscriber(cfg Config, logger *slog.Logger) *Transcriber {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{cfg: cfg, dialer: websocket.DefaultDialer, logger: logger}
}

func (t *Transcriber) Transcribe(ctx context.Context, payload domain.AudioPayload) (string, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return "", &domain.RequestError{Op: "deepgram transcribe", Err: errors.New("DEEPGRAM_API_KEY is not configured")}
	}
	if payload.Empty() {
		return "", domain.ErrEmptyOrUnrecognizedAudio
	}

	wsURL, err := buildListenURL(t.cfg)
	if err != nil {
		return "", err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	conn, resp, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		reqErr := &domain.RequestError{Op: "deepgram transcribe", Err: err}
		if resp != nil {
			reqErr.Status = resp.StatusCode
		}
		return "", reqErr
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendPayload(conn, payload.Data)
	}()

	agg := newTranscriptAggregator()
	readErr := readResults(conn, agg)

	if err := <-writeErr; err != nil && readErr == nil {
		readErr = err
	}
	if ctx.Err() != nil {
		return "", &domain.RequestError{Op: "deepgram transcribe", Err: ctx.Err()}
	}

	text := agg.Text()
	if text == "" && readErr != nil {
		return "", &domain.RequestError{Op: "deepgram transcribe", Err: readErr}
	}
	if text == "" {
		return "", domain.ErrEmptyOrUnrecognizedAudio
	}
	if readErr != nil {
		t.logger.Warn("deepgram stream ended with error after transcript", "err", readErr)
	}
	return text, nil
}

func sendPayload(conn *websocket.Conn, data []byte) error {
	for start := 0; start < len(data); start += sendChunkSize {
		end := min(start+sendChunkSize, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[start:end]); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

// readResults consumes provider events until the server closes the stream.
func readResults(conn *websocket.Conn, agg *transcriptAggregator) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil
			}
			return fmt.Errorf("failed to read provider event: %w", err)
		}

		var response deepgramResponse
		if err := json.Unmarshal(message, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			msg := strings.TrimSpace(response.Message)
			if msg == "" {
				msg = "deepgram returned an unknown error"
			}
			return errors.New(msg)
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}
		kind := segmentInterim
		if response.IsFinal || response.SpeechFinal {
			kind = segmentFinal
		}
		agg.Add(segment{kind: kind, text: transcript})
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

// buildListenURL leaves encoding unset: recorded payloads carry a container
// (webm, m4a) that the listen endpoint detects on its own.
func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	query.Set("punctuate", "true")
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
