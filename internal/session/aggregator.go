package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/observability"
)

// DefaultPartialThrottle bounds partial rebroadcasts per speaker.
const DefaultPartialThrottle = 150 * time.Millisecond

// Broadcaster fans session events out to all observers of a call.
type Broadcaster interface {
	BroadcastPartial(frame models.PartialFrame)
	BroadcastLine(callID string, line models.TranscriptLine, transcript []models.TranscriptLine)
}

// Syncer pushes appended lines to the persistence collaborator. Calls are
// at-least-once and fire-and-forget; the in-memory store stays authoritative
// when a sync fails.
type Syncer interface {
	SyncTranscript(ctx context.Context, callID string, transcript []models.TranscriptLine) error
}

// Clock is injected so throttle behavior is deterministic under test.
type Clock func() time.Time

type speakerState struct {
	partial     string
	lastEmit    time.Time
	lastEmitted string
	lastManual  string // manual commit awaiting its automatic twin
}

// TranscriptAggregator reconciles the three racing event sources (recognizer
// partials, recognizer finals, manual operator commits) into the canonical
// TranscriptStore sequence plus a throttled low-latency partial preview.
type TranscriptAggregator struct {
	mu       sync.Mutex
	callID   string
	started  time.Time
	throttle time.Duration

	store    *TranscriptStore
	bus      Broadcaster
	sync     Syncer
	now      Clock
	log      *logrus.Logger
	speakers map[models.Speaker]*speakerState
}

func NewTranscriptAggregator(callID string, store *TranscriptStore, bus Broadcaster, syncer Syncer, now Clock, log *logrus.Logger) *TranscriptAggregator {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.New()
	}
	return &TranscriptAggregator{
		callID:   callID,
		started:  now(),
		throttle: DefaultPartialThrottle,
		store:    store,
		bus:      bus,
		sync:     syncer,
		now:      now,
		log:      log,
		speakers: make(map[models.Speaker]*speakerState),
	}
}

// SetThrottle overrides the partial rebroadcast interval.
func (a *TranscriptAggregator) SetThrottle(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d > 0 {
		a.throttle = d
	}
}

func (a *TranscriptAggregator) state(speaker models.Speaker) *speakerState {
	st, ok := a.speakers[speaker]
	if !ok {
		st = &speakerState{}
		a.speakers[speaker] = st
	}
	return st
}

// OnPartial updates the ephemeral frame for speaker and rebroadcasts it,
// subject to the changed-text check and the per-speaker throttle.
func (a *TranscriptAggregator) OnPartial(speaker models.Speaker, text string) {
	if !speaker.Valid() {
		return
	}

	a.mu.Lock()
	st := a.state(speaker)
	st.partial = text

	now := a.now()
	emit := text != st.lastEmitted && now.Sub(st.lastEmit) >= a.throttle
	if emit {
		st.lastEmit = now
		st.lastEmitted = text
	}
	a.mu.Unlock()

	if emit && a.bus != nil {
		a.bus.BroadcastPartial(models.PartialFrame{CallID: a.callID, Speaker: speaker, Text: text})
	}
}

// Partial returns the current unstable text for speaker.
func (a *TranscriptAggregator) Partial(speaker models.Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state(speaker).partial
}

// CommitAuto handles a recognizer final. A final whose text exactly matches
// the speaker's pending manual commit is the duplicate half of that race and
// is dropped; divergent text is an independent line.
func (a *TranscriptAggregator) CommitAuto(speaker models.Speaker, text string) (models.TranscriptLine, bool) {
	text = strings.TrimSpace(text)
	if !speaker.Valid() || text == "" {
		return models.TranscriptLine{}, false
	}

	a.mu.Lock()
	st := a.state(speaker)
	pending := st.lastManual
	st.lastManual = "" // one final consumes the utterance window either way
	if pending == text {
		st.partial = ""
		st.lastEmitted = ""
		a.mu.Unlock()
		a.log.WithFields(logrus.Fields{"call_id": a.callID, "speaker": speaker}).
			Debug("dropped automatic commit duplicating manual commit")
		return models.TranscriptLine{}, false
	}
	line := a.appendLocked(speaker, text)
	a.mu.Unlock()

	a.publish(line)
	return line, true
}

// CommitNow is the operator's manual cut: the current partial is appended
// synchronously and remembered so the matching recognizer final, if it
// arrives later, is recognized as a duplicate.
func (a *TranscriptAggregator) CommitNow(speaker models.Speaker) (models.TranscriptLine, bool) {
	if !speaker.Valid() {
		return models.TranscriptLine{}, false
	}

	a.mu.Lock()
	st := a.state(speaker)
	text := strings.TrimSpace(st.partial)
	if text == "" {
		a.mu.Unlock()
		return models.TranscriptLine{}, false
	}
	st.lastManual = text
	line := a.appendLocked(speaker, text)
	a.mu.Unlock()

	a.publish(line)
	return line, true
}

// Flush commits any trailing partials as lines. Called when the session
// stops so the last utterance is not lost.
func (a *TranscriptAggregator) Flush() []models.TranscriptLine {
	a.mu.Lock()
	var flushed []models.TranscriptLine
	for _, speaker := range []models.Speaker{models.SpeakerCaller, models.SpeakerOperator} {
		st := a.state(speaker)
		text := strings.TrimSpace(st.partial)
		if text == "" {
			continue
		}
		flushed = append(flushed, a.appendLocked(speaker, text))
	}
	a.mu.Unlock()

	for _, line := range flushed {
		a.publish(line)
	}
	return flushed
}

// appendLocked writes the line and clears the speaker's partial state.
// Callers hold a.mu.
func (a *TranscriptAggregator) appendLocked(speaker models.Speaker, text string) models.TranscriptLine {
	st := a.state(speaker)
	st.partial = ""
	st.lastEmitted = ""

	line := models.TranscriptLine{
		Speaker:   speaker,
		Text:      text,
		Timestamp: formatElapsed(a.now().Sub(a.started)),
	}
	a.store.Append(line)
	observability.CommittedLines.WithLabelValues(string(speaker)).Inc()
	return line
}

func (a *TranscriptAggregator) publish(line models.TranscriptLine) {
	transcript := a.store.Snapshot()

	if a.bus != nil {
		a.bus.BroadcastLine(a.callID, line, transcript)
	}
	if a.sync != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.sync.SyncTranscript(ctx, a.callID, transcript); err != nil {
				a.log.WithError(err).WithField("call_id", a.callID).
					Warn("transcript sync failed; live store remains authoritative")
			}
		}()
	}
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
