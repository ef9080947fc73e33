package domain

import "time"

// SessionState models the voice turn lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateListening  SessionState = "listening"
	SessionStateProcessing SessionState = "processing"
	SessionStateSpeaking   SessionState = "speaking"
	SessionStateReview     SessionState = "review"
	SessionStateSending    SessionState = "sending"
	SessionStateSuccess    SessionState = "success"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady             SessionStateReason = "ready"
	SessionReasonListeningStarted  SessionStateReason = "listening_started"
	SessionReasonTranscribing      SessionStateReason = "transcribing"
	SessionReasonResolvingIntent   SessionStateReason = "resolving_intent"
	SessionReasonReplyPlaying      SessionStateReason = "reply_playing"
	SessionReasonReplyFinished     SessionStateReason = "reply_finished"
	SessionReasonNoReply           SessionStateReason = "no_reply"
	SessionReasonDraftReady        SessionStateReason = "draft_ready"
	SessionReasonDraftDiscarded    SessionStateReason = "draft_discarded"
	SessionReasonSending           SessionStateReason = "sending"
	SessionReasonSent              SessionStateReason = "sent"
	SessionReasonCancelled         SessionStateReason = "cancelled"
	SessionReasonFailed            SessionStateReason = "failed"
	SessionReasonSignedIn          SessionStateReason = "signed_in"
	SessionReasonSignedOut         SessionStateReason = "signed_out"
	SessionReasonSuccessDisplayEnd SessionStateReason = "success_display_end"
)

// Draft is an email generated by the assistant, pending user confirmation.
type Draft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AudioPayload is a finished recording, normalized across capture devices.
// It is consumed exactly once by a transcriber.
type AudioPayload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Empty reports whether the payload carries no audio.
func (p AudioPayload) Empty() bool {
	return len(p.Data) == 0
}

// IntentReply is the assistant's answer to a transcript.
type IntentReply struct {
	Response string `json:"response"`
	Draft    *Draft `json:"draft,omitempty"`
}

// Profile is the signed-in user's public profile.
type Profile struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	GivenName string `json:"givenName"`
	Picture   string `json:"picture,omitempty"`
}

// SessionError is the user-visible failure of the last turn.
type SessionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Snapshot is a read-only copy of the session for presentation.
type Snapshot struct {
	SessionID      string             `json:"sessionId"`
	UserID         string             `json:"userId,omitempty"`
	State          SessionState       `json:"state"`
	Reason         SessionStateReason `json:"reason,omitempty"`
	Turn           uint64             `json:"turn"`
	Transcript     string             `json:"transcript"`
	AssistantReply string             `json:"assistantReply"`
	Draft          *Draft             `json:"draft,omitempty"`
	Error          *SessionError      `json:"error,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// ErrorMessage returns the user-facing error text, or "" when the turn has no error.
func (s Snapshot) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return s.Error.Message
}

// Active reports whether a turn is in flight.
func (s Snapshot) Active() bool {
	return s.State != SessionStateIdle
}
