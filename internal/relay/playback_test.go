package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedPlayer records playback order and fails on demand. It detects any
// overlapping Play calls.
type scriptedPlayer struct {
	mu       sync.Mutex
	active   int
	overlap  bool
	played   []string
	failOn   map[string]bool
	delay    time.Duration
	doneOnce chan string
}

func newScriptedPlayer() *scriptedPlayer {
	return &scriptedPlayer{
		failOn:   make(map[string]bool),
		doneOnce: make(chan string, 64),
	}
}

func (p *scriptedPlayer) Play(ctx context.Context, payload []byte, mimeType string) error {
	p.mu.Lock()
	p.active++
	if p.active > 1 {
		p.overlap = true
	}
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	clip := string(payload)

	p.mu.Lock()
	p.played = append(p.played, clip)
	p.active--
	fail := p.failOn[clip]
	p.mu.Unlock()

	p.doneOnce <- clip
	if fail {
		return errors.New("decode error")
	}
	return nil
}

func (p *scriptedPlayer) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.doneOnce:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for clip %d of %d", i+1, n)
		}
	}
}

func (p *scriptedPlayer) playedList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

func TestPlaybackQueue_FIFOAndNoOverlap(t *testing.T) {
	player := newScriptedPlayer()
	player.delay = 20 * time.Millisecond
	q := NewPlaybackQueue(player, nil)

	for _, clip := range []string{"a", "b", "c", "d"} {
		if !q.Enqueue([]byte(clip), MimeWebM) {
			t.Fatalf("enqueue %q rejected", clip)
		}
	}

	player.waitFor(t, 4)

	got := player.playedList()
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("clip %d = %q, want %q", i, got[i], want[i])
		}
	}
	if player.overlap {
		t.Error("two clips played concurrently")
	}
}

func TestPlaybackQueue_ErrorSkipsAndContinues(t *testing.T) {
	player := newScriptedPlayer()
	player.failOn["bad"] = true
	q := NewPlaybackQueue(player, nil)

	q.Enqueue([]byte("ok1"), MimeWebM)
	q.Enqueue([]byte("bad"), MimeWebM)
	q.Enqueue([]byte("ok2"), MimeWebM)

	player.waitFor(t, 3)

	got := player.playedList()
	if len(got) != 3 || got[2] != "ok2" {
		t.Errorf("draining did not continue past the failed clip: %v", got)
	}
}

func TestPlaybackQueue_CloseStopsIntakeButDrains(t *testing.T) {
	player := newScriptedPlayer()
	player.delay = 30 * time.Millisecond
	q := NewPlaybackQueue(player, nil)

	q.Enqueue([]byte("queued"), MimeWebM)
	q.Close()

	if q.Enqueue([]byte("late"), MimeWebM) {
		t.Error("enqueue accepted after close")
	}

	player.waitFor(t, 1)
	got := player.playedList()
	if len(got) != 1 || got[0] != "queued" {
		t.Errorf("queued clip did not finish after close: %v", got)
	}
}

func TestPlaybackQueue_IdleCallbackAfterDrain(t *testing.T) {
	player := newScriptedPlayer()
	q := NewPlaybackQueue(player, nil)

	idle := make(chan struct{}, 1)
	q.OnIdle(func() { idle <- struct{}{} })

	q.Enqueue([]byte("x"), MimeWebM)

	select {
	case <-idle:
	case <-time.After(3 * time.Second):
		t.Fatal("idle callback never fired")
	}
	if q.Playing() {
		t.Error("queue still marked playing after drain")
	}
}
