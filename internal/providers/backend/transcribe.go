package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

var (
	_ ports.Transcriber    = (*Client)(nil)
	_ ports.IntentResolver = (*Client)(nil)
)

// Transcribe uploads payload as the single multipart field "file".
// A reply without text is domain.ErrEmptyOrUnrecognizedAudio, not a failure.
func (c *Client) Transcribe(ctx context.Context, payload domain.AudioPayload) (string, error) {
	if payload.Empty() {
		return "", domain.ErrEmptyOrUnrecognizedAudio
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(payload.Filename)))
	contentType := payload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := fw.Write(payload.Data); err != nil {
		return "", fmt.Errorf("transcribe: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transcribe: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcribePath, &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result struct {
		Text *string `json:"text"`
	}
	if err := c.do("transcribe", req, &result); err != nil {
		return "", err
	}
	if result.Text == nil || strings.TrimSpace(*result.Text) == "" {
		return "", domain.ErrEmptyOrUnrecognizedAudio
	}
	return strings.TrimSpace(*result.Text), nil
}
