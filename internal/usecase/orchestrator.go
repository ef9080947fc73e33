package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

// Stage names reported to ports.TurnMetrics.
const (
	StageTranscription = "transcription"
	StageIntent        = "intent"
	StageSend          = "send"
)

// Turn outcomes reported to ports.TurnMetrics.
const (
	OutcomeReplied   = "replied"
	OutcomeNoReply   = "no_reply"
	OutcomeDiscarded = "discarded"
	OutcomeSent      = "sent"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

const defaultSuccessDisplay = 2 * time.Second

// Config controls orchestrator timing.
type Config struct {
	// SuccessDisplay is how long Success stays up before returning to Idle.
	// Zero selects the default; a negative value skips the display.
	SuccessDisplay time.Duration
}

// Orchestrator drives one voice turn at a time through
// Idle → Listening → Processing → Speaking|Review → Idle.
//
// Every external call runs without the lock held. Results are applied only
// while the turn that issued them is still current; Cancel and SignOut
// advance the turn so late responses are dropped.
type Orchestrator struct {
	capture     ports.AudioCapture
	transcriber ports.Transcriber
	intent      ports.IntentResolver
	speaker     ports.Speaker
	mail        ports.MailSender
	events      ports.EventSink
	metrics     ports.TurnMetrics
	finalizer   replyFinalizer
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time

	// emitMu keeps StateChanged calls in commit order.
	emitMu sync.Mutex

	mu           sync.Mutex
	sess         session
	turnCancel   context.CancelFunc
	turnCtx      context.Context
	playback     playbackSlot
	successTimer *time.Timer
}

func NewOrchestrator(
	capture ports.AudioCapture,
	transcriber ports.Transcriber,
	intent ports.IntentResolver,
	speaker ports.Speaker,
	mail ports.MailSender,
	events ports.EventSink,
	metrics ports.TurnMetrics,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.SuccessDisplay == 0 {
		cfg.SuccessDisplay = defaultSuccessDisplay
	}
	if events == nil {
		events = discardEvents{}
	}
	if metrics == nil {
		metrics = discardMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		capture:     capture,
		transcriber: transcriber,
		intent:      intent,
		speaker:     speaker,
		mail:        mail,
		events:      events,
		metrics:     metrics,
		logger:      logger.With("component", "orchestrator"),
		cfg:         cfg,
		now:         time.Now,
		turnCtx:     context.Background(),
	}
	o.sess = newSession("", 0, o.now())
	return o
}

// Snapshot returns a read-only copy of the session.
func (o *Orchestrator) Snapshot() domain.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.snapshot()
}

// StartListening opens a turn and starts recording. It is a no-op outside Idle.
func (o *Orchestrator) StartListening(ctx context.Context) domain.Snapshot {
	o.mu.Lock()
	if o.sess.state != domain.SessionStateIdle {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		o.logger.Debug("start ignored", "state", snap.State)
		return snap
	}
	o.stopSuccessTimerLocked()
	turn := o.sess.beginTurn(o.now())
	o.turnCtx, o.turnCancel = context.WithCancel(ctx)
	turnCtx := o.turnCtx
	o.mu.Unlock()

	err := o.capture.Start(turnCtx)
	if errors.Is(err, domain.ErrAlreadyRecording) {
		o.logger.Debug("recording already live, keeping it", "turn", turn)
		err = nil
	}
	if err != nil {
		message := domain.MessageCaptureFailed
		if errors.Is(err, domain.ErrPermissionDenied) {
			message = domain.MessagePermissionDenied
		}
		return o.failTurn(turn, err, message)
	}

	snap, ok := o.commit(turn, func(*session) {})
	if !ok {
		// Cancelled while the recorder was starting.
		if err := o.capture.Discard(); err != nil && !errors.Is(err, domain.ErrNothingToStop) {
			o.logger.Warn("discard after cancelled start failed", "turn", turn, "err", err)
		}
		return snap
	}
	o.logger.Info("listening", "session_id", snap.SessionID, "turn", turn)
	return snap
}

// StopListening ends the recording and runs the rest of the turn. It returns
// once the turn settles in Idle or Review, or is superseded.
func (o *Orchestrator) StopListening(ctx context.Context) domain.Snapshot {
	o.mu.Lock()
	if o.sess.state != domain.SessionStateListening {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		o.logger.Debug("stop ignored", "state", snap.State, "err", domain.ErrNothingToStop)
		return snap
	}
	turn := o.sess.turn
	turnCtx := o.turnCtx
	o.sess.transition(domain.SessionStateProcessing, domain.SessionReasonTranscribing, o.now())
	o.unlockAndPublish(o.sess.snapshot())

	runCtx, cancel := context.WithCancel(turnCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return o.runTurn(runCtx, turn)
}

func (o *Orchestrator) runTurn(ctx context.Context, turn uint64) domain.Snapshot {
	payload, err := o.capture.Stop(ctx)
	if err == nil && payload.Empty() {
		err = domain.ErrEmptyOrUnrecognizedAudio
	}
	if err != nil {
		message := domain.MessageCaptureFailed
		if errors.Is(err, domain.ErrEmptyOrUnrecognizedAudio) || errors.Is(err, domain.ErrNothingToStop) {
			message = domain.MessageNoAudio
		}
		return o.failTurn(turn, err, message)
	}
	if snap, ok := o.current(turn); !ok {
		return snap
	}

	started := time.Now()
	text, err := o.transcriber.Transcribe(ctx, payload)
	o.metrics.RecordStage(ctx, StageTranscription, time.Since(started), err)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = domain.ErrEmptyOrUnrecognizedAudio
	}
	if err != nil {
		return o.failTurn(turn, err, domain.MessageCouldNotTranscribe)
	}

	snap, ok := o.commit(turn, func(s *session) {
		s.transcript = text
		s.transition(domain.SessionStateProcessing, domain.SessionReasonResolvingIntent, o.now())
	})
	if !ok {
		return snap
	}
	if strings.TrimSpace(snap.UserID) == "" {
		return o.failTurn(turn, domain.ErrNotAuthenticated, domain.MessageNotAuthenticated)
	}

	started = time.Now()
	reply, err := o.intent.ResolveIntent(ctx, snap.UserID, text)
	o.metrics.RecordStage(ctx, StageIntent, time.Since(started), err)
	if err != nil {
		message := domain.MessageProcessingFailed
		if errors.Is(err, domain.ErrNotAuthenticated) {
			message = domain.MessageNotAuthenticated
		}
		return o.failTurn(turn, err, message)
	}

	return o.deliver(ctx, turn, reply)
}

// deliver applies a resolved intent: review a draft, speak the reply, or
// return to Idle when there is nothing to say.
func (o *Orchestrator) deliver(ctx context.Context, turn uint64, reply domain.IntentReply) domain.Snapshot {
	outcome, text, draft := o.finalizer.Finalize(reply)

	switch outcome {
	case replyReview:
		snap, _ := o.commit(turn, func(s *session) {
			s.reply = text
			s.draft = draft
			s.transition(domain.SessionStateReview, domain.SessionReasonDraftReady, o.now())
		})
		return snap
	case replySilent:
		snap, ok := o.commit(turn, func(s *session) {
			s.reply = ""
			s.transition(domain.SessionStateIdle, domain.SessionReasonNoReply, o.now())
			o.endTurnLocked()
		})
		if ok {
			o.metrics.RecordTurn(ctx, OutcomeNoReply)
		}
		return snap
	}

	var previous ports.PlaybackHandle
	snap, ok := o.commit(turn, func(s *session) {
		s.reply = text
		s.transition(domain.SessionStateSpeaking, domain.SessionReasonReplyPlaying, o.now())
		previous = o.playback.take()
	})
	if err := stopHandle(previous); err != nil {
		o.logger.Warn("stop previous playback failed", "err", err)
	}
	if !ok {
		return snap
	}

	handle, err := o.speaker.Play(ctx, text)
	if err != nil {
		return o.failTurn(turn, err, domain.MessagePlaybackFailed)
	}

	o.mu.Lock()
	if o.sess.turn != turn {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		_ = handle.Stop()
		return snap
	}
	o.playback.hold(handle)
	o.mu.Unlock()

	select {
	case <-handle.Done():
	case <-ctx.Done():
	}

	var released ports.PlaybackHandle
	playErr := handle.Err()
	snap, ok = o.commit(turn, func(s *session) {
		if o.playback.owns(handle) {
			released = o.playback.take()
		}
		if playErr != nil && ctx.Err() == nil {
			s.fail(domain.CodeOf(playErr), domain.MessagePlaybackFailed, o.now())
		} else {
			s.transition(domain.SessionStateIdle, domain.SessionReasonReplyFinished, o.now())
		}
		o.endTurnLocked()
	})
	if err := stopHandle(released); err != nil {
		o.logger.Warn("release playback failed", "err", err)
	}
	if !ok {
		return snap
	}
	if snap.Error != nil {
		o.logger.Warn("playback failed", "turn", turn, "err", playErr)
		o.metrics.RecordTurn(ctx, OutcomeFailed)
		return snap
	}
	o.metrics.RecordTurn(ctx, OutcomeReplied)
	return snap
}

// ConfirmSend sends the reviewed draft. It is a no-op outside Review.
func (o *Orchestrator) ConfirmSend(ctx context.Context) domain.Snapshot {
	o.mu.Lock()
	if o.sess.state != domain.SessionStateReview || o.sess.draft == nil {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		return snap
	}
	turn := o.sess.turn
	draft := *o.sess.draft
	if strings.TrimSpace(o.sess.userID) == "" {
		o.sess.fail(domain.ErrorCodeNotAuthenticated, domain.MessageNotAuthenticated, o.now())
		o.endTurnLocked()
		snap := o.sess.snapshot()
		o.unlockAndPublish(snap)
		o.metrics.RecordTurn(ctx, OutcomeFailed)
		return snap
	}
	turnCtx := o.turnCtx
	o.sess.transition(domain.SessionStateSending, domain.SessionReasonSending, o.now())
	o.unlockAndPublish(o.sess.snapshot())

	runCtx, cancel := context.WithCancel(turnCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	started := time.Now()
	err := o.mail.Send(runCtx, draft)
	o.metrics.RecordStage(ctx, StageSend, time.Since(started), err)
	if err != nil {
		message := domain.MessageSendFailed
		if errors.Is(err, domain.ErrNotAuthenticated) {
			message = domain.MessageNotAuthenticated
		}
		return o.failTurn(turn, err, message)
	}

	immediate := o.cfg.SuccessDisplay < 0
	snap, ok := o.commit(turn, func(s *session) {
		s.draft = nil
		s.transition(domain.SessionStateSuccess, domain.SessionReasonSent, o.now())
		o.endTurnLocked()
		if !immediate {
			o.successTimer = time.AfterFunc(o.cfg.SuccessDisplay, func() { o.endSuccess(turn) })
		}
	})
	if !ok {
		return snap
	}
	o.logger.Info("draft sent", "turn", turn)
	o.metrics.RecordTurn(ctx, OutcomeSent)
	if immediate {
		return o.endSuccess(turn)
	}
	return snap
}

func (o *Orchestrator) endSuccess(turn uint64) domain.Snapshot {
	o.mu.Lock()
	if o.sess.turn != turn || o.sess.state != domain.SessionStateSuccess {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		return snap
	}
	o.successTimer = nil
	o.sess.transition(domain.SessionStateIdle, domain.SessionReasonSuccessDisplayEnd, o.now())
	snap := o.sess.snapshot()
	o.unlockAndPublish(snap)
	return snap
}

// DiscardDraft drops the reviewed draft and returns to Idle.
func (o *Orchestrator) DiscardDraft() domain.Snapshot {
	o.mu.Lock()
	if o.sess.state != domain.SessionStateReview {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		return snap
	}
	o.sess.draft = nil
	o.sess.transition(domain.SessionStateIdle, domain.SessionReasonDraftDiscarded, o.now())
	o.endTurnLocked()
	snap := o.sess.snapshot()
	o.unlockAndPublish(snap)
	o.metrics.RecordTurn(context.Background(), OutcomeDiscarded)
	return snap
}

// Cancel abandons the current turn from any state. Recording is discarded
// without upload, playback is stopped and late responses are ignored.
func (o *Orchestrator) Cancel() domain.Snapshot {
	o.mu.Lock()
	if o.sess.state == domain.SessionStateIdle {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		return snap
	}
	prev, handle := o.abortLocked()
	o.sess.transition(domain.SessionStateIdle, domain.SessionReasonCancelled, o.now())
	snap := o.sess.snapshot()
	o.unlockAndPublish(snap)

	o.releaseAborted(prev, handle)
	o.logger.Info("turn cancelled", "turn", snap.Turn, "from", prev)
	if prev != domain.SessionStateSuccess {
		o.metrics.RecordTurn(context.Background(), OutcomeCancelled)
	}
	return snap
}

// SignIn records the backend user id obtained by the auth handoff.
func (o *Orchestrator) SignIn(userID string) domain.Snapshot {
	o.mu.Lock()
	o.sess.userID = strings.TrimSpace(userID)
	if o.sess.state == domain.SessionStateIdle {
		o.sess.err = nil
		o.sess.transition(domain.SessionStateIdle, domain.SessionReasonSignedIn, o.now())
	}
	snap := o.sess.snapshot()
	o.unlockAndPublish(snap)
	return snap
}

// SignOut abandons any turn and starts a fresh anonymous session.
func (o *Orchestrator) SignOut() domain.Snapshot {
	o.mu.Lock()
	prev := domain.SessionStateIdle
	var handle ports.PlaybackHandle
	if o.sess.state != domain.SessionStateIdle {
		prev, handle = o.abortLocked()
	}
	o.sess = newSession("", o.sess.turn+1, o.now())
	o.sess.reason = domain.SessionReasonSignedOut
	snap := o.sess.snapshot()
	o.unlockAndPublish(snap)

	o.releaseAborted(prev, handle)
	return snap
}

// abortLocked advances the turn and detaches everything the old turn owned.
func (o *Orchestrator) abortLocked() (domain.SessionState, ports.PlaybackHandle) {
	prev := o.sess.state
	o.sess.turn++
	o.sess.transcript = ""
	o.sess.reply = ""
	o.sess.draft = nil
	o.sess.err = nil
	o.endTurnLocked()
	o.stopSuccessTimerLocked()
	return prev, o.playback.take()
}

func (o *Orchestrator) releaseAborted(prev domain.SessionState, handle ports.PlaybackHandle) {
	if prev == domain.SessionStateListening {
		if err := o.capture.Discard(); err != nil && !errors.Is(err, domain.ErrNothingToStop) {
			o.logger.Warn("discard recording failed", "err", err)
		}
	}
	if err := stopHandle(handle); err != nil {
		o.logger.Warn("stop playback failed", "err", err)
	}
}

func (o *Orchestrator) failTurn(turn uint64, err error, message string) domain.Snapshot {
	code := domain.CodeOf(err)
	snap, ok := o.commit(turn, func(s *session) {
		s.fail(code, message, o.now())
		o.endTurnLocked()
	})
	if !ok {
		o.logger.Debug("dropping stale failure", "turn", turn, "err", err)
		return snap
	}
	o.logger.Warn("turn failed", "turn", turn, "code", code, "err", err)
	o.metrics.RecordTurn(context.Background(), OutcomeFailed)
	return snap
}

// current reports whether turn is still the live one.
func (o *Orchestrator) current(turn uint64) (domain.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.snapshot(), o.sess.turn == turn
}

// commit applies fn and publishes the result if turn is still current.
func (o *Orchestrator) commit(turn uint64, fn func(s *session)) (domain.Snapshot, bool) {
	o.mu.Lock()
	if o.sess.turn != turn {
		snap := o.sess.snapshot()
		o.mu.Unlock()
		return snap, false
	}
	fn(&o.sess)
	snap := o.sess.snapshot()
	o.unlockAndPublish(snap)
	return snap, true
}

// unlockAndPublish must be called with mu held. Sinks must not call back
// into the orchestrator synchronously.
func (o *Orchestrator) unlockAndPublish(snap domain.Snapshot) {
	o.emitMu.Lock()
	o.mu.Unlock()
	defer o.emitMu.Unlock()
	o.events.StateChanged(snap)
}

func (o *Orchestrator) endTurnLocked() {
	if o.turnCancel != nil {
		o.turnCancel()
	}
	o.turnCancel = nil
	o.turnCtx = context.Background()
}

func (o *Orchestrator) stopSuccessTimerLocked() {
	if o.successTimer != nil {
		o.successTimer.Stop()
		o.successTimer = nil
	}
}

type discardEvents struct{}

func (discardEvents) StateChanged(domain.Snapshot) {}

type discardMetrics struct{}

func (discardMetrics) RecordStage(context.Context, string, time.Duration, error) {}
func (discardMetrics) RecordTurn(context.Context, string)                         {}
