package ports

import (
	"context"
	"time"

	"drivemail/internal/domain"
)

// AudioCapture records one utterance at a time.
//
// Start fails with domain.ErrAlreadyRecording while a recording is live and
// with domain.ErrPermissionDenied when the microphone is refused. Stop returns
// domain.ErrNothingToStop when idle and always releases the recording, even
// when extracting the payload fails.
type AudioCapture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (domain.AudioPayload, error)
	Discard() error
	Recording() bool
}

// Transcriber turns a recorded payload into text.
// A well-formed response without text yields domain.ErrEmptyOrUnrecognizedAudio.
type Transcriber interface {
	Transcribe(ctx context.Context, payload domain.AudioPayload) (string, error)
}

// IntentResolver sends recognized text to the assistant backend.
type IntentResolver interface {
	ResolveIntent(ctx context.Context, userID string, text string) (domain.IntentReply, error)
}

// PlaybackHandle is a synthesized reply that is currently playing.
// Done is closed when playback ends for any reason; Err then reports
// domain.ErrPlaybackFailed (wrapped) or nil.
type PlaybackHandle interface {
	Stop() error
	Done() <-chan struct{}
	Err() error
}

// Speaker plays assistant replies. Play force-stops any previous handle
// before the new one starts.
type Speaker interface {
	Play(ctx context.Context, text string) (PlaybackHandle, error)
	Stop() error
}

// MailSender delivers a confirmed draft.
type MailSender interface {
	Send(ctx context.Context, draft domain.Draft) error
}

// EventSink receives orchestrator state changes for rendering.
type EventSink interface {
	StateChanged(snapshot domain.Snapshot)
}

// TurnMetrics records stage latencies and turn outcomes.
type TurnMetrics interface {
	RecordStage(ctx context.Context, stage string, d time.Duration, err error)
	RecordTurn(ctx context.Context, outcome string)
}
