package usecase

import (
	"strings"

	"drivemail/internal/domain"
)

type replyOutcome int

const (
	replySilent replyOutcome = iota
	replySpeak
	replyReview
)

// replyFinalizer decides where a resolved intent takes the turn: a drafted
// email goes to review, spoken text goes to playback, nothing goes to idle.
type replyFinalizer struct{}

func (replyFinalizer) Finalize(reply domain.IntentReply) (replyOutcome, string, *domain.Draft) {
	text := strings.TrimSpace(reply.Response)

	if draft := normalizeDraft(reply.Draft); draft != nil {
		return replyReview, text, draft
	}
	if text == "" {
		return replySilent, "", nil
	}
	return replySpeak, text, nil
}

// normalizeDraft drops drafts that carry nothing to send.
func normalizeDraft(d *domain.Draft) *domain.Draft {
	if d == nil {
		return nil
	}
	out := domain.Draft{
		To:      strings.TrimSpace(d.To),
		Subject: strings.TrimSpace(d.Subject),
		Body:    d.Body,
	}
	if out.To == "" && out.Subject == "" && strings.TrimSpace(out.Body) == "" {
		return nil
	}
	return &out
}
