package usecase

import (
	"time"

	"github.com/google/uuid"

	"drivemail/internal/domain"
	"drivemail/internal/ports"
)

// session is the record owned by the orchestrator. It is only touched with
// Orchestrator.mu held.
type session struct {
	id         string
	userID     string
	state      domain.SessionState
	reason     domain.SessionStateReason
	turn       uint64
	transcript string
	reply      string
	draft      *domain.Draft
	err        *domain.SessionError
	updatedAt  time.Time
}

func newSession(userID string, turn uint64, now time.Time) session {
	return session{
		id:        uuid.Must(uuid.NewV7()).String(),
		userID:    userID,
		state:     domain.SessionStateIdle,
		reason:    domain.SessionReasonReady,
		turn:      turn,
		updatedAt: now,
	}
}

func (s *session) transition(state domain.SessionState, reason domain.SessionStateReason, now time.Time) {
	s.state = state
	s.reason = reason
	s.updatedAt = now
}

// beginTurn opens a new turn and clears what the previous one left behind.
func (s *session) beginTurn(now time.Time) uint64 {
	s.turn++
	s.transcript = ""
	s.reply = ""
	s.draft = nil
	s.err = nil
	s.transition(domain.SessionStateListening, domain.SessionReasonListeningStarted, now)
	return s.turn
}

// fail ends the turn in Idle. Transcript and reply stay visible.
func (s *session) fail(code domain.ErrorCode, message string, now time.Time) {
	s.draft = nil
	s.err = &domain.SessionError{Code: code, Message: message}
	s.transition(domain.SessionStateIdle, domain.SessionReasonFailed, now)
}

func (s *session) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		SessionID:      s.id,
		UserID:         s.userID,
		State:          s.state,
		Reason:         s.reason,
		Turn:           s.turn,
		Transcript:     s.transcript,
		AssistantReply: s.reply,
		UpdatedAt:      s.updatedAt,
	}
	if s.draft != nil {
		d := *s.draft
		snap.Draft = &d
	}
	if s.err != nil {
		e := *s.err
		snap.Error = &e
	}
	return snap
}

// playbackSlot owns at most one live playback handle.
type playbackSlot struct {
	handle ports.PlaybackHandle
}

func (p *playbackSlot) hold(h ports.PlaybackHandle) ports.PlaybackHandle {
	prev := p.handle
	p.handle = h
	return prev
}

// take empties the slot; the caller stops whatever it gets back.
func (p *playbackSlot) take() ports.PlaybackHandle {
	h := p.handle
	p.handle = nil
	return h
}

func (p *playbackSlot) owns(h ports.PlaybackHandle) bool {
	return p.handle != nil && p.handle == h
}

func stopHandle(h ports.PlaybackHandle) error {
	if h == nil {
		return nil
	}
	return h.Stop()
}
