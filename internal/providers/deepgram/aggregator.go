package deepgram

import (
	"strings"
	"sync"
)

type segmentKind int

const (
	segmentInterim segmentKind = iota
	segmentFinal
)

type segment struct {
	kind segmentKind
	text string
}

// transcriptAggregator folds listen results into one utterance. Final
// segments win; the last interim segment covers a stream that ended
// before finalizing.
type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(seg segment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(seg.text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if seg.kind == segmentFinal {
		a.finals = append(a.finals, text)
	}
}

func (a *transcriptAggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	switch {
	case joined == "":
		return a.lastSpoken
	case a.lastSpoken == "", strings.HasSuffix(joined, a.lastSpoken):
		return joined
	case len(a.lastSpoken) > len(joined):
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	default:
		return joined
	}
}
