package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of turn failure.
type ErrorCode string

const (
	ErrorCodePermissionDenied   ErrorCode = "permission_denied"
	ErrorCodeAlreadyRecording   ErrorCode = "already_recording"
	ErrorCodeNothingToStop      ErrorCode = "nothing_to_stop"
	ErrorCodeEmptyAudio         ErrorCode = "empty_or_unrecognized_audio"
	ErrorCodeRequestFailed      ErrorCode = "request_failed"
	ErrorCodeNotAuthenticated   ErrorCode = "not_authenticated"
	ErrorCodePlaybackFailed     ErrorCode = "playback_failed"
	ErrorCodeSendFailed         ErrorCode = "send_failed"
	ErrorCodeCaptureFailed      ErrorCode = "capture_failed"
	ErrorCodeStartup            ErrorCode = "startup"
)

var (
	ErrPermissionDenied         = errors.New("microphone permission denied")
	ErrAlreadyRecording         = errors.New("already recording")
	ErrNothingToStop            = errors.New("no active recording")
	ErrEmptyOrUnrecognizedAudio = errors.New("empty or unrecognized audio")
	ErrRequestFailed            = errors.New("request failed")
	ErrNotAuthenticated         = errors.New("not authenticated")
	ErrPlaybackFailed           = errors.New("playback failed")
	ErrSendFailed               = errors.New("send failed")
)

// User-facing messages for terminal turn failures.
const (
	MessageCouldNotTranscribe = "could not transcribe"
	MessageProcessingFailed   = "processing failed"
	MessageSendFailed         = "send failed"
	MessageNotAuthenticated   = "not authenticated"
	MessagePermissionDenied   = "microphone access denied"
	MessageNoAudio            = "no audio captured"
	MessagePlaybackFailed     = "playback failed"
	MessageCaptureFailed      = "recording failed"
)

// RequestError is a failed backend call. Status is 0 for transport failures.
type RequestError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status > 0 && e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Detail)
	case e.Status > 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": request failed"
	}
}

// Unwrap lets errors.Is match both ErrRequestFailed and the transport cause.
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRequestFailed}
	}
	return []error{ErrRequestFailed, e.Err}
}

// Transport reports whether the request never produced an HTTP response.
func (e *RequestError) Transport() bool {
	return e.Status == 0
}

// CodeOf maps an error from any adapter to its taxonomy code.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.Is(err, ErrAlreadyRecording):
		return ErrorCodeAlreadyRecording
	case errors.Is(err, ErrNothingToStop):
		return ErrorCodeNothingToStop
	case errors.Is(err, ErrEmptyOrUnrecognizedAudio):
		return ErrorCodeEmptyAudio
	case errors.Is(err, ErrNotAuthenticated):
		return ErrorCodeNotAuthenticated
	case errors.Is(err, ErrPlaybackFailed):
		return ErrorCodePlaybackFailed
	case errors.Is(err, ErrSendFailed):
		return ErrorCodeSendFailed
	case errors.Is(err, ErrRequestFailed):
		return ErrorCodeRequestFailed
	default:
		return ErrorCodeCaptureFailed
	}
}
