package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/utils"
)

type fakePersistence struct {
	mu         sync.Mutex
	created    []*models.Call
	ended      map[string][]models.TranscriptLine
	analyses   map[string]models.Analysis
	createErr  error
	analyzeErr error
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		ended:    make(map[string][]models.TranscriptLine),
		analyses: make(map[string]models.Analysis),
	}
}

func (p *fakePersistence) CreateCall(ctx context.Context, call *models.Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return p.createErr
	}
	p.created = append(p.created, call)
	return nil
}

func (p *fakePersistence) SyncTranscript(ctx context.Context, callID string, transcript []models.TranscriptLine) error {
	return nil
}

func (p *fakePersistence) EndSession(ctx context.Context, callID string, transcript []models.TranscriptLine, duration int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended[callID] = transcript
	return nil
}

func (p *fakePersistence) StoreAnalysis(ctx context.Context, callID string, analysis models.Analysis) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analyses[callID] = analysis
	return nil
}

func (p *fakePersistence) analysisFor(callID string) (models.Analysis, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.analyses[callID]
	return a, ok
}

type fakeAnalyzer struct {
	err    error
	result models.Analysis
}

func (a *fakeAnalyzer) AnalyzeTranscript(ctx context.Context, transcript []models.TranscriptLine) (models.Analysis, error) {
	if a.err != nil {
		return models.Analysis{}, a.err
	}
	return a.result, nil
}

type fakeEvents struct {
	mu       sync.Mutex
	incoming []string
	statuses []string
	analyzed []string
}

func (e *fakeEvents) BroadcastIncomingCall(callID, from string, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.incoming = append(e.incoming, callID)
}

func (e *fakeEvents) BroadcastStatus(callID, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, status)
}

func (e *fakeEvents) BroadcastAnalyzed(callID string, transcript []models.TranscriptLine, analysis models.Analysis) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.analyzed = append(e.analyzed, callID)
}

func (e *fakeEvents) statusList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.statuses))
	copy(out, e.statuses)
	return out
}

func newTestController(p *fakePersistence, a Analyzer, ev Events) *Controller {
	return NewController(Config{
		Calls:    p,
		Analyzer: a,
		Events:   ev,
	})
}

func TestController_StartStopLifecycle(t *testing.T) {
	p := newFakePersistence()
	ev := &fakeEvents{}
	ctl := newTestController(p, &fakeAnalyzer{result: models.Analysis{Urgency: "critical"}}, ev)

	call, err := ctl.Start(context.Background(), "+16045551234")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if call.Status != models.CallStatusActive {
		t.Errorf("call status = %q, want active", call.Status)
	}
	if !ctl.Active() {
		t.Error("controller not active after start")
	}
	if len(p.created) != 1 {
		t.Fatalf("created %d call records, want 1", len(p.created))
	}

	ctl.Aggregator().CommitAuto(models.SpeakerCaller, "my husband collapsed")

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ctl.Active() {
		t.Error("controller still active after stop")
	}

	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("analysis handoff never completed")
	}

	a, ok := p.analysisFor(ctl.CallID)
	if !ok {
		t.Fatal("analysis was not persisted")
	}
	if a.Urgency != "critical" {
		t.Errorf("analysis urgency = %q", a.Urgency)
	}

	statuses := ev.statusList()
	want := []string{models.CallStatusActive, models.CallStatusProcessing, models.CallStatusQueued}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status %d = %q, want %q", i, statuses[i], want[i])
		}
	}
}

func TestController_StartIsSessionFatalOnCreateFailure(t *testing.T) {
	p := newFakePersistence()
	p.createErr = errors.New("store down")
	ctl := newTestController(p, nil, nil)

	if _, err := ctl.Start(context.Background(), "caller"); err == nil {
		t.Fatal("expected start to fail when the call record cannot be allocated")
	}
	if ctl.Active() {
		t.Error("controller became active despite fatal start")
	}
}

func TestController_NoReentryIntoActive(t *testing.T) {
	p := newFakePersistence()
	ctl := newTestController(p, nil, &fakeEvents{})

	if _, err := ctl.Start(context.Background(), "caller"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ctl.Start(context.Background(), "caller"); !utils.IsCode(err, utils.CodeConflict) {
		t.Errorf("second start: got %v, want CONFLICT", err)
	}

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	<-ctl.Done()

	// The same Call identity never re-enters active.
	if _, err := ctl.Start(context.Background(), "caller"); err == nil {
		t.Error("controller restarted after completion")
	}
	if err := ctl.Stop(context.Background()); !utils.IsCode(err, utils.CodeConflict) {
		t.Errorf("stop on finished session: got %v, want CONFLICT", err)
	}
}

func TestController_StopRevokesTurnAndFlushesPartial(t *testing.T) {
	p := newFakePersistence()
	ctl := newTestController(p, nil, &fakeEvents{})

	if _, err := ctl.Start(context.Background(), "caller"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := ctl.Gate().TryAcquire(models.SpeakerCaller); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctl.Aggregator().OnPartial(models.SpeakerCaller, "the back door is unlocked")

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := ctl.Gate().Live(); got != models.SpeakerNone {
		t.Errorf("turn still held after stop: %q", got)
	}

	transcript := p.ended[ctl.CallID]
	if len(transcript) != 1 {
		t.Fatalf("persisted %d lines, want the flushed trailing partial", len(transcript))
	}
	if transcript[0].Text != "the back door is unlocked" {
		t.Errorf("flushed line = %q", transcript[0].Text)
	}
}

func TestController_AnalysisFailureDegradesButProgresses(t *testing.T) {
	p := newFakePersistence()
	ev := &fakeEvents{}
	ctl := newTestController(p, &fakeAnalyzer{err: errors.New("model unavailable")}, ev)

	if _, err := ctl.Start(context.Background(), "caller"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctl.Aggregator().CommitAuto(models.SpeakerCaller, "there is smoke everywhere")
	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller stuck in processing after analysis failure")
	}

	a, ok := p.analysisFor(ctl.CallID)
	if !ok {
		t.Fatal("no degraded analysis persisted")
	}
	if a.Summary == "" {
		t.Error("degraded analysis has empty summary")
	}
	if a.Summary != "there is smoke everywhere" {
		t.Errorf("degraded summary = %q, want caller's words", a.Summary)
	}

	statuses := ev.statusList()
	if statuses[len(statuses)-1] != models.CallStatusQueued {
		t.Errorf("final status = %q, want queued", statuses[len(statuses)-1])
	}
}

func TestManager_TracksLiveSessions(t *testing.T) {
	p := newFakePersistence()
	m := NewManager(Config{Calls: p, Events: &fakeEvents{}})

	ctl, call, err := m.StartSession(context.Background(), "+16040000000")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if call.CallID != ctl.CallID {
		t.Errorf("call id mismatch: %q vs %q", call.CallID, ctl.CallID)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", m.ActiveCount())
	}

	got, err := m.Get(ctl.CallID)
	if err != nil || got != ctl {
		t.Fatalf("get returned %v, %v", got, err)
	}

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	<-ctl.Done()

	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("finished session never removed from manager")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := m.Get(ctl.CallID); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("get after completion: got %v, want NOT_FOUND", err)
	}
}
