package audio

import (
	"bytes"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"drivemail/internal/domain"
)

// Recording containers produced by the two capture modes.
const (
	StreamContentType = "audio/webm"
	StreamFilename    = "recording.webm"
	FileContentType   = "audio/m4a"
	FileFilename      = "recording.m4a"
)

var audioTypes = map[string]string{
	".webm": StreamContentType,
	".m4a":  FileContentType,
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
}

// normalizePayload is the single seam where device-specific output becomes
// a domain.AudioPayload.
func normalizePayload(data []byte, contentType string, filename string) domain.AudioPayload {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "recording"
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		ext := strings.ToLower(filepath.Ext(filename))
		if known, ok := audioTypes[ext]; ok {
			contentType = known
		} else {
			contentType = mime.TypeByExtension(ext)
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return domain.AudioPayload{
		Data:        data,
		ContentType: contentType,
		Filename:    filename,
	}
}

// payloadFromChunks joins streamed chunks in arrival order.
func payloadFromChunks(chunks [][]byte, contentType string, filename string) domain.AudioPayload {
	return normalizePayload(bytes.Join(chunks, nil), contentType, filename)
}

// payloadFromFile reads a finished recording and removes it. The file is
// removed even when reading fails.
func payloadFromFile(path string, contentType string, filename string) (payload domain.AudioPayload, err error) {
	defer func() {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
			err = fmt.Errorf("remove recording %q: %w", path, removeErr)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return normalizePayload(nil, contentType, filename), nil
		}
		return domain.AudioPayload{}, fmt.Errorf("read recording %q: %w", path, err)
	}
	return normalizePayload(data, contentType, filename), nil
}
