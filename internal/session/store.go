package session

import (
	"sync"

	"github.com/callscribe/callscribe/internal/models"
)

// TranscriptStore is the append-only log of committed lines for one call.
// It is the source of truth for the live session: appends only, no in-place
// mutation, so readers can snapshot without coordinating with the writer.
type TranscriptStore struct {
	mu    sync.RWMutex
	lines []models.TranscriptLine
}

func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{}
}

// Append adds one committed line and returns its position in the log.
func (s *TranscriptStore) Append(line models.TranscriptLine) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return len(s.lines) - 1
}

// Annotate attaches a translation to the line at index i. Translations are
// additive and non-authoritative; speaker, text and timestamp never change.
func (s *TranscriptStore) Annotate(i int, translation string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.lines) {
		return false
	}
	s.lines[i].Translation = translation
	return true
}

// Snapshot returns a copy of the log in append order.
func (s *TranscriptStore) Snapshot() []models.TranscriptLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TranscriptLine, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *TranscriptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}
