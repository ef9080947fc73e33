package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"drivemail/internal/domain"
)

type intentRequest struct {
	Text   string          `json:"text"`
	UserID json.RawMessage `json:"user_id"`
}

type intentResponse struct {
	Response string        `json:"response"`
	Draft    *domain.Draft `json:"draft"`
}

// ResolveIntent posts the transcript for userID and returns the assistant's
// reply. An empty response is valid and means there is nothing to say.
func (c *Client) ResolveIntent(ctx context.Context, userID string, text string) (domain.IntentReply, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.IntentReply{}, domain.ErrNotAuthenticated
	}

	var out intentResponse
	err := c.postJSON(ctx, "resolve intent", intentPath, intentRequest{Text: text, UserID: c.wireUserID(userID)}, &out)
	if err != nil {
		return domain.IntentReply{}, err
	}
	return domain.IntentReply{Response: out.Response, Draft: out.Draft}, nil
}

type authRequest struct {
	Token string `json:"token"`
}

type authResponse struct {
	UserID json.RawMessage `json:"user_id"`
	Email  string          `json:"email"`
}

// ExchangeToken hands the bearer token to the backend once and returns the
// user id it issues. The id is kept opaque.
func (c *Client) ExchangeToken(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", domain.ErrNotAuthenticated
	}

	var out authResponse
	if err := c.postJSON(ctx, "exchange token", authPath, authRequest{Token: token}, &out); err != nil {
		return "", err
	}
	userID := decodeUserID(out.UserID)
	if userID == "" {
		return "", &domain.RequestError{Op: "exchange token", Status: http.StatusOK, Detail: "response carried no user_id"}
	}

	c.idMu.Lock()
	c.issued[userID] = append(json.RawMessage(nil), out.UserID...)
	c.idMu.Unlock()
	return userID, nil
}

// wireUserID returns the id exactly as the backend issued it. Ids this client
// never saw fall back to encodeUserID.
func (c *Client) wireUserID(id string) json.RawMessage {
	id = strings.TrimSpace(id)
	c.idMu.Lock()
	raw, ok := c.issued[id]
	c.idMu.Unlock()
	if ok {
		return raw
	}
	return encodeUserID(id)
}

// encodeUserID sends canonical integers as JSON numbers and anything else as
// a string.
func encodeUserID(id string) json.RawMessage {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && strconv.FormatInt(n, 10) == id {
		return json.RawMessage(id)
	}
	raw, _ := json.Marshal(id)
	return raw
}

func decodeUserID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
