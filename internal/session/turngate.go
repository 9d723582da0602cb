package session

import (
	"sync"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/utils"
)

// TurnState is the observable state of the half-duplex lock.
type TurnState struct {
	LiveSpeaker models.Speaker `json:"liveSpeaker"` // empty when nobody holds the turn
}

// TurnGate enforces the push-to-talk rule: at most one side's microphone is
// live at any instant. Acquisition by the other side while the lock is held
// fails with CHANNEL_BUSY; release is idempotent.
type TurnGate struct {
	mu   sync.Mutex
	live models.Speaker
	subs []func(TurnState)
}

func NewTurnGate() *TurnGate {
	return &TurnGate{}
}

// Subscribe registers fn to run on every state change. Callbacks run
// synchronously under the gate's transition, in registration order.
func (g *TurnGate) Subscribe(fn func(TurnState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, fn)
}

// TryAcquire grants the turn to speaker, or fails with CHANNEL_BUSY if the
// other side holds it. Re-acquiring an already-held turn is a no-op grant.
func (g *TurnGate) TryAcquire(speaker models.Speaker) error {
	const op = "TurnGate.TryAcquire"

	if !speaker.Valid() {
		return utils.E(utils.CodeInvalidArgument, op, "invalid speaker", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.live {
	case speaker:
		return nil
	case models.SpeakerNone:
		g.live = speaker
		g.notifyLocked()
		return nil
	default:
		return utils.E(utils.CodeChannelBusy, op, "channel busy", nil)
	}
}

// Release frees the turn if speaker holds it. Releasing a turn you do not
// hold is a no-op, so callers may release unconditionally on teardown.
func (g *TurnGate) Release(speaker models.Speaker) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.live != speaker || g.live == models.SpeakerNone {
		return
	}
	g.live = models.SpeakerNone
	g.notifyLocked()
}

// Reset revokes any held turn. Used on session start and stop.
func (g *TurnGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.live == models.SpeakerNone {
		return
	}
	g.live = models.SpeakerNone
	g.notifyLocked()
}

// Live returns the current holder, or SpeakerNone.
func (g *TurnGate) Live() models.Speaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live
}

func (g *TurnGate) notifyLocked() {
	st := TurnState{LiveSpeaker: g.live}
	for _, fn := range g.subs {
		fn(st)
	}
}
