package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/observability"
	"github.com/callscribe/callscribe/internal/providers/stt"
	"github.com/callscribe/callscribe/internal/utils"
)

// Persistence is the session's view of the external call store. Create is
// session-fatal when it fails; everything else is best-effort during the
// live session.
type Persistence interface {
	Syncer
	CreateCall(ctx context.Context, call *models.Call) error
	EndSession(ctx context.Context, callID string, transcript []models.TranscriptLine, duration int64) error
	StoreAnalysis(ctx context.Context, callID string, analysis models.Analysis) error
}

// Analyzer runs the AI triage assessment once the session ends.
type Analyzer interface {
	AnalyzeTranscript(ctx context.Context, transcript []models.TranscriptLine) (models.Analysis, error)
}

// Events are the lifecycle notifications fanned out to observers.
type Events interface {
	BroadcastIncomingCall(callID, from string, ts time.Time)
	BroadcastStatus(callID, status string)
	BroadcastAnalyzed(callID string, transcript []models.TranscriptLine, analysis models.Analysis)
}

const (
	stateIdle       = "idle"
	stateActive     = "active"
	stateProcessing = "processing"
	stateDone       = "done"
)

// Controller owns one call's lifecycle and wires the gate, the store and the
// aggregator to the transport. A controller never re-enters active: a new
// live session means a new Controller and a new Call identity.
type Controller struct {
	CallID string

	gate  *TurnGate
	store *TranscriptStore
	agg   *TranscriptAggregator

	calls    Persistence
	analyzer Analyzer
	events   Events
	speech   stt.Provider
	language string
	now      Clock
	log      *logrus.Logger

	mu      sync.Mutex
	state   string
	started time.Time
	recs    map[models.Speaker]*Recognizer
	recCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{} // closed when analysis handoff completes
}

// Config carries the collaborators a Controller is built from. The transport
// handle (Events/Broadcaster) is injected here; there is no process-global
// connection object.
type Config struct {
	Bus      Broadcaster
	Calls    Persistence
	Analyzer Analyzer
	Events   Events
	Speech   stt.Provider // optional streaming recognizer for live capture
	Language string       // BCP-47 code passed to the recognizer, e.g. "en-US"
	Clock    Clock
	Logger   *logrus.Logger
	Throttle time.Duration
}

func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	callID := uuid.NewString()
	store := NewTranscriptStore()
	agg := NewTranscriptAggregator(callID, store, cfg.Bus, cfg.Calls, cfg.Clock, cfg.Logger)
	if cfg.Throttle > 0 {
		agg.SetThrottle(cfg.Throttle)
	}

	return &Controller{
		CallID:   callID,
		gate:     NewTurnGate(),
		store:    store,
		agg:      agg,
		calls:    cfg.Calls,
		analyzer: cfg.Analyzer,
		events:   cfg.Events,
		speech:   cfg.Speech,
		language: cfg.Language,
		now:      cfg.Clock,
		log:      cfg.Logger,
		state:    stateIdle,
		recs:     make(map[models.Speaker]*Recognizer),
		done:     make(chan struct{}),
	}
}

func (c *Controller) Gate() *TurnGate                   { return c.gate }
func (c *Controller) Aggregator() *TranscriptAggregator { return c.agg }
func (c *Controller) Store() *TranscriptStore           { return c.store }

// Active reports whether the session still accepts audio and transcript
// events.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateActive
}

// Done is closed once the post-session analysis handoff has finished.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start allocates the Call record and opens the session. Failure to create
// the record is session-fatal; no partial session is left behind.
func (c *Controller) Start(ctx context.Context, from string) (*models.Call, error) {
	const op = "Controller.Start"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateIdle {
		return nil, utils.E(utils.CodeConflict, op, "session already started", nil)
	}

	now := c.now().UTC()
	call := &models.Call{
		CallID:     c.CallID,
		From:       from,
		Status:     models.CallStatusActive,
		Transcript: []models.TranscriptLine{},
		Timestamp:  now,
		UpdatedAt:  now,
	}

	c.gate.Reset()

	if c.calls != nil {
		if err := c.calls.CreateCall(ctx, call); err != nil {
			return nil, utils.E(utils.CodeUnavailable, op, "failed to allocate call record", err)
		}
	}

	c.state = stateActive
	c.started = now
	c.recCtx, c.cancel = context.WithCancel(context.Background())

	if c.events != nil {
		c.events.BroadcastIncomingCall(c.CallID, from, now)
		c.events.BroadcastStatus(c.CallID, models.CallStatusActive)
	}

	c.log.WithFields(logrus.Fields{"call_id": c.CallID, "from": from}).Info("session started")
	return call, nil
}

// FeedAudio routes a live capture chunk into the speaker's recognition
// stream, starting the stream on first use. Hypotheses surface through the
// aggregator as partials and finals; the chunk itself is not stored.
func (c *Controller) FeedAudio(speaker models.Speaker, chunk []byte) error {
	const op = "Controller.FeedAudio"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.speech == nil {
		return utils.E(utils.CodeUnavailable, op, "no speech provider configured", nil)
	}
	if c.state != stateActive {
		return utils.E(utils.CodeConflict, op, "session is not active", nil)
	}

	rec, ok := c.recs[speaker]
	if !ok {
		rec = StartRecognizer(c.recCtx, c.speech, c.agg, speaker, c.language, c.log)
		c.recs[speaker] = rec
		c.log.WithFields(logrus.Fields{"call_id": c.CallID, "speaker": speaker}).Info("recognition stream opened")
	}

	rec.Feed(chunk)
	return nil
}

// Stop closes the live session: the held turn is revoked, any trailing
// partial is flushed as a final line, the transcript is persisted, and the
// analysis collaborator is signalled. Already-relayed audio keeps playing on
// receivers; no new audio is accepted once Stop returns.
func (c *Controller) Stop(ctx context.Context) error {
	const op = "Controller.Stop"

	c.mu.Lock()
	if c.state != stateActive {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "session is not active", nil)
	}
	c.state = stateProcessing
	started := c.started
	recs := c.recs
	c.recs = make(map[models.Speaker]*Recognizer)
	cancel := c.cancel
	c.mu.Unlock()

	// Let in-flight recognition drain so trailing finals land before the
	// flush, then cut the streams off.
	for _, rec := range recs {
		rec.Close()
	}
	for _, rec := range recs {
		select {
		case <-rec.Done():
		case <-time.After(2 * time.Second):
			c.log.WithField("call_id", c.CallID).Warn("recognition stream did not drain in time")
		}
	}
	if cancel != nil {
		cancel()
	}

	c.gate.Reset()
	c.agg.Flush()

	transcript := c.store.Snapshot()
	duration := int64(c.now().UTC().Sub(started).Seconds())
	if duration < 0 {
		duration = 0
	}

	if c.calls != nil {
		if err := c.calls.EndSession(ctx, c.CallID, transcript, duration); err != nil {
			c.log.WithError(err).WithField("call_id", c.CallID).Warn("failed to persist session end")
		}
	}
	if c.events != nil {
		c.events.BroadcastStatus(c.CallID, models.CallStatusProcessing)
	}

	c.log.WithFields(logrus.Fields{
		"call_id":  c.CallID,
		"lines":    len(transcript),
		"duration": duration,
	}).Info("session stopped, analysis pending")

	go c.analyze(transcript)
	return nil
}

// analyze runs triage and hands the call to the dispatch queue. A failed
// analysis degrades to a manual-review summary instead of leaving the call
// stuck in processing.
func (c *Controller) analyze(transcript []models.TranscriptLine) {
	defer close(c.done)
	defer func() {
		c.mu.Lock()
		c.state = stateDone
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var analysis models.Analysis
	if c.analyzer != nil {
		var err error
		analysis, err = c.analyzer.AnalyzeTranscript(ctx, transcript)
		if err != nil {
			c.log.WithError(err).WithField("call_id", c.CallID).Error("triage analysis failed, storing degraded summary")
			observability.TriageFailures.Inc()
			analysis = degradedAnalysis(transcript)
		}
	} else {
		analysis = degradedAnalysis(transcript)
	}

	if c.calls != nil {
		if err := c.calls.StoreAnalysis(ctx, c.CallID, analysis); err != nil {
			c.log.WithError(err).WithField("call_id", c.CallID).Warn("failed to persist analysis")
		}
	}
	if c.events != nil {
		c.events.BroadcastAnalyzed(c.CallID, transcript, analysis)
		c.events.BroadcastStatus(c.CallID, models.CallStatusQueued)
	}
}

// degradedAnalysis is the fallback shipped when the AI collaborator is
// unavailable. The summary is built from the caller's own words.
func degradedAnalysis(transcript []models.TranscriptLine) models.Analysis {
	var caller []string
	for _, line := range transcript {
		if line.Speaker == models.SpeakerCaller {
			caller = append(caller, line.Text)
		}
	}
	summary := strings.Join(caller, " ")
	if len(summary) > 200 {
		summary = summary[:200] + "..."
	}
	if summary == "" {
		summary = "Unable to analyze call. Manual review required."
	}

	return models.Analysis{
		Urgency:            "urgent",
		Confidence:         50,
		Symptoms:           []string{"Unknown"},
		PatientType:        "Unknown",
		Summary:            summary,
		Keywords:           []string{},
		RecommendedActions: []string{"Manual dispatcher review required"},
	}
}
