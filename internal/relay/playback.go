package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Player renders one audio payload and returns when playback finishes
// naturally or fails. The queue never calls Play concurrently.
type Player interface {
	Play(ctx context.Context, payload []byte, mimeType string) error
}

type queuedClip struct {
	payload  []byte
	mimeType string
}

// PlaybackQueue serializes incoming clips: item i+1 starts only after item i
// completed or errored, so no two clips ever overlap. A decode/playback
// error is logged and skipped; draining continues. After Close the queue
// accepts no new clips but already-queued ones finish playing.
type PlaybackQueue struct {
	mu      sync.Mutex
	items   []queuedClip
	playing bool
	closed  bool

	player Player
	log    *logrus.Logger
	onIdle func() // runs when a drain pass empties the queue
}

func NewPlaybackQueue(player Player, log *logrus.Logger) *PlaybackQueue {
	if log == nil {
		log = logrus.New()
	}
	return &PlaybackQueue{player: player, log: log}
}

// OnIdle registers a callback for the moment the drain loop goes quiet.
// The local side may use it to delay its own capture until the peer's audio
// has finished.
func (q *PlaybackQueue) OnIdle(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onIdle = fn
}

// Enqueue adds a clip and starts draining if the queue was idle. Returns
// false when the queue is closed.
func (q *PlaybackQueue) Enqueue(payload []byte, mimeType string) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, queuedClip{payload: payload, mimeType: mimeType})
	start := !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return true
}

// drain pops and plays clips one at a time. An explicit loop, not a
// recursive chain: queue depth never grows the stack.
func (q *PlaybackQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.playing = false
			idle := q.onIdle
			q.mu.Unlock()
			if idle != nil {
				idle()
			}
			return
		}
		clip := q.items[0]
		q.items = q.items[1:]
		remaining := len(q.items)
		q.mu.Unlock()

		q.log.WithField("remaining", remaining).Debug("playing queued clip")

		if err := q.player.Play(context.Background(), clip.payload, clip.mimeType); err != nil {
			q.log.WithError(err).Warn("clip playback failed, skipping")
		}
	}
}

// Playing reports whether a drain pass is in flight.
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Pending reports how many clips wait behind the one currently playing.
func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops intake. Queued clips still drain; nothing new is accepted.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
