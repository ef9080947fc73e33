package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"drivemail/internal/auth"
	"drivemail/internal/bootstrap"
	"drivemail/internal/config"
	"drivemail/internal/domain"
	"drivemail/internal/observe"
	"drivemail/internal/ports"
	"drivemail/internal/usecase"
)

const (
	eventSession = "drivemail:session"
	eventError   = "drivemail:error"
)

const messageSignInFailed = "sign-in failed"

// App is the Wails application root.
type App struct {
	ctx context.Context

	orchestrator *usecase.Orchestrator
	handoff      *auth.Handoff
	speaker      ports.Speaker
	telemetry    *observe.Provider
	cfg          config.Config
	logger       *slog.Logger
	bootErr      error

	emit func(ctx context.Context, name string, data ...interface{})
}

// LoginResult is returned to the UI after a successful sign-in.
type LoginResult struct {
	Profile domain.Profile  `json:"profile"`
	Session domain.Snapshot `json:"session"`
}

// sessionEvent is the payload of eventSession.
type sessionEvent struct {
	domain.Snapshot
	Message string `json:"message"`
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit, logger: slog.Default()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.logger.Error("startup failed", "err", err)
		a.publish(eventError, domain.SessionError{Code: domain.ErrorCodeStartup, Message: err.Error()})
		return
	}

	a.cfg = services.Config
	a.logger = services.Logger
	a.orchestrator = services.Orchestrator
	a.handoff = services.Handoff
	a.speaker = services.Speaker
	a.telemetry = services.Telemetry
	a.StateChanged(a.orchestrator.Snapshot())
}

// telemetryFlushTimeout bounds the metrics flush on exit.
const telemetryFlushTimeout = 3 * time.Second

func (a *App) shutdown(ctx context.Context) {
	if a.orchestrator != nil {
		a.orchestrator.Cancel()
		if err := a.speaker.Stop(); err != nil {
			a.logger.Warn("stop playback on shutdown", "err", err)
		}
	}
	if a.telemetry != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		if err := a.telemetry.Shutdown(flushCtx); err != nil {
			a.logger.Warn("shutdown telemetry", "err", err)
		}
		a.telemetry = nil
	}
}

// StartListening opens the microphone for a new turn.
func (a *App) StartListening() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.orchestrator.StartListening(a.ctx), nil
}

// StopListening ends recording and runs the turn. It returns once the turn
// is idle again or waiting for draft review.
func (a *App) StopListening() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.orchestrator.StopListening(a.ctx), nil
}

// Cancel abandons whatever the current turn is doing.
func (a *App) Cancel() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.orchestrator.Cancel(), nil
}

// ConfirmSend sends the draft under review.
func (a *App) ConfirmSend() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.orchestrator.ConfirmSend(a.ctx), nil
}

// DiscardDraft drops the draft under review.
func (a *App) DiscardDraft() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	return a.orchestrator.DiscardDraft(), nil
}

// Login exchanges an access token from the browser sign-in flow.
func (a *App) Login(token string) (LoginResult, error) {
	if err := a.requireReady(); err != nil {
		return LoginResult{}, err
	}
	result, err := a.handoff.Exchange(a.ctx, token)
	if err != nil {
		a.logger.Warn("sign-in failed", "err", err)
		if errors.Is(err, domain.ErrNotAuthenticated) {
			return LoginResult{}, errors.New(domain.MessageNotAuthenticated)
		}
		return LoginResult{}, errors.New(messageSignInFailed)
	}
	snap := a.orchestrator.SignIn(result.UserID)
	return LoginResult{Profile: result.Profile, Session: snap}, nil
}

// Logout forgets the mail token and resets the session.
func (a *App) Logout() (domain.Snapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.Snapshot{}, err
	}
	a.handoff.Forget()
	return a.orchestrator.SignOut(), nil
}

// GetStatus returns the current session snapshot.
func (a *App) GetStatus() domain.Snapshot {
	if a.orchestrator == nil {
		snap := domain.Snapshot{State: domain.SessionStateIdle}
		if a.bootErr != nil {
			snap.Error = &domain.SessionError{Code: domain.ErrorCodeStartup, Message: a.bootErr.Error()}
		}
		return snap
	}
	return a.orchestrator.Snapshot()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"transcription":    a.cfg.Transcription.Provider,
		"playback":         a.cfg.Playback.Provider,
		"captureMode":      a.cfg.Audio.Mode,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
	if a.cfg.Transcription.Provider == config.TranscriptionDeepgram {
		info["model"] = a.cfg.Transcription.Deepgram.Model
		info["language"] = a.cfg.Transcription.Deepgram.Language
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.orchestrator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged forwards every session change to the frontend.
func (a *App) StateChanged(snap domain.Snapshot) {
	a.publish(eventSession, sessionEvent{Snapshot: snap, Message: statusMessage(snap)})
}

func (a *App) publish(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

// statusMessage is the one-line status shown under the talk button.
func statusMessage(snap domain.Snapshot) string {
	if snap.Error != nil {
		return snap.Error.Message
	}
	switch snap.Reason {
	case domain.SessionReasonReady, domain.SessionReasonSuccessDisplayEnd, domain.SessionReasonReplyFinished:
		return "Tap to talk"
	case domain.SessionReasonListeningStarted:
		return "Listening..."
	case domain.SessionReasonTranscribing:
		return "Transcribing..."
	case domain.SessionReasonResolvingIntent:
		return "Thinking..."
	case domain.SessionReasonReplyPlaying:
		return "Speaking"
	case domain.SessionReasonNoReply:
		return "No reply"
	case domain.SessionReasonDraftReady:
		return "Review your email"
	case domain.SessionReasonDraftDiscarded:
		return "Draft discarded"
	case domain.SessionReasonSending:
		return "Sending..."
	case domain.SessionReasonSent:
		return "Email sent"
	case domain.SessionReasonCancelled:
		return "Cancelled"
	case domain.SessionReasonSignedIn:
		return "Signed in"
	case domain.SessionReasonSignedOut:
		return "Signed out"
	default:
		return ""
	}
}
