package gmail

import (
	"encoding/base64"
	"mime"
	"strings"

	"drivemail/internal/domain"
)

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// BuildMessage renders draft as a plain text RFC 822 message with CRLF line
// endings. Non-ASCII subjects are RFC 2047 encoded.
func BuildMessage(draft domain.Draft) []byte {
	to := strings.TrimSpace(headerBreaks.Replace(draft.To))
	subject := strings.TrimSpace(headerBreaks.Replace(draft.Subject))

	var b strings.Builder
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", subject) + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(draft.Body)
	return []byte(b.String())
}

// EncodeRaw is base64url without padding, as the raw field expects.
func EncodeRaw(message []byte) string {
	return base64.RawURLEncoding.EncodeToString(message)
}

// DecodeRaw reverses EncodeRaw. Padded input is accepted too.
func DecodeRaw(raw string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}
