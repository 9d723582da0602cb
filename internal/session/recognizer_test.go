package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/providers/stt"
)

// fakeSpeech scripts the result stream while recording every chunk fed in.
type fakeSpeech struct {
	mu      sync.Mutex
	chunks  [][]byte
	script  []stt.Result
	streamE error
}

func (f *fakeSpeech) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	return "", 0, nil
}

func (f *fakeSpeech) Close() error { return nil }

func (f *fakeSpeech) Stream(ctx context.Context, audio <-chan []byte, language string) (<-chan stt.Result, <-chan error) {
	results := make(chan stt.Result, len(f.script))
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)
		for chunk := range audio {
			f.mu.Lock()
			f.chunks = append(f.chunks, chunk)
			f.mu.Unlock()
		}
		for _, res := range f.script {
			results <- res
		}
		if f.streamE != nil {
			errs <- f.streamE
		}
	}()
	return results, errs
}

func (f *fakeSpeech) fedChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func waitDone(t *testing.T, r *Recognizer) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer did not drain")
	}
}

func TestRecognizer_InterimBecomesPartialFinalCommits(t *testing.T) {
	agg, store, bus, _ := newTestAggregator(t)
	provider := &fakeSpeech{script: []stt.Result{
		{Text: "she is", Final: false},
		{Text: "she is not breathing", Final: false},
		{Text: "She is not breathing.", Confidence: 0.92, Final: true},
	}}

	rec := StartRecognizer(context.Background(), provider, agg, models.SpeakerCaller, "en-US", nil)
	if !rec.Feed([]byte("frame-1")) {
		t.Fatal("Feed rejected an open recognizer")
	}
	rec.Feed([]byte("frame-2"))
	rec.Close()
	waitDone(t, rec)

	if provider.fedChunks() != 2 {
		t.Errorf("provider saw %d chunks, want 2", provider.fedChunks())
	}
	snap := store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("committed lines = %d, want 1", len(snap))
	}
	if snap[0].Text != "She is not breathing." || snap[0].Speaker != models.SpeakerCaller {
		t.Errorf("committed line = %+v", snap[0])
	}
	if bus.partialCount() == 0 {
		t.Error("interim results produced no partial broadcasts")
	}
	if got := agg.Partial(models.SpeakerCaller); got != "" {
		t.Errorf("pending partial after final = %q, want empty", got)
	}
}

func TestRecognizer_StreamErrorStopsWithoutCommit(t *testing.T) {
	agg, store, _, _ := newTestAggregator(t)
	provider := &fakeSpeech{
		script:  []stt.Result{{Text: "hel", Final: false}},
		streamE: errors.New("stream reset"),
	}

	rec := StartRecognizer(context.Background(), provider, agg, models.SpeakerOperator, "en-US", nil)
	rec.Feed([]byte("frame"))
	rec.Close()
	waitDone(t, rec)

	if len(store.Snapshot()) != 0 {
		t.Errorf("error path committed %d lines, want 0", len(store.Snapshot()))
	}
}

func TestRecognizer_FeedAfterCloseIsRejected(t *testing.T) {
	agg, _, _, _ := newTestAggregator(t)
	provider := &fakeSpeech{}

	rec := StartRecognizer(context.Background(), provider, agg, models.SpeakerCaller, "en-US", nil)
	rec.Close()
	rec.Close() // idempotent
	if rec.Feed([]byte("late")) {
		t.Error("Feed accepted a chunk after Close")
	}
	waitDone(t, rec)
}

func TestControllerFeedAudio(t *testing.T) {
	provider := &fakeSpeech{script: []stt.Result{
		{Text: "Send help to 12 Oak Street.", Confidence: 0.9, Final: true},
	}}
	clock := newFakeClock()
	ctl := NewController(Config{
		Bus:      &fakeBus{},
		Speech:   provider,
		Language: "en-US",
		Clock:    clock.Now,
	})

	if err := ctl.FeedAudio(models.SpeakerCaller, []byte("early")); err == nil {
		t.Fatal("FeedAudio on an idle session did not fail")
	}

	if _, err := ctl.Start(context.Background(), "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctl.FeedAudio(models.SpeakerCaller, []byte("frame")); err != nil {
		t.Fatalf("FeedAudio: %v", err)
	}

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish analysis handoff")
	}

	snap := ctl.Store().Snapshot()
	if len(snap) != 1 || snap[0].Text != "Send help to 12 Oak Street." {
		t.Fatalf("transcript = %+v, want the recognized final line", snap)
	}
	if err := ctl.FeedAudio(models.SpeakerCaller, []byte("late")); err == nil {
		t.Error("FeedAudio after Stop did not fail")
	}
}

func TestControllerFeedAudioWithoutProvider(t *testing.T) {
	ctl := NewController(Config{Bus: &fakeBus{}, Clock: newFakeClock().Now})
	if _, err := ctl.Start(context.Background(), "+15550100"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctl.FeedAudio(models.SpeakerCaller, []byte("frame")); err == nil {
		t.Error("FeedAudio without a speech provider did not fail")
	}
}
