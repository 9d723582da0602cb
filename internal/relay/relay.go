package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/utils"
)

// Gate is the relay's view of the half-duplex lock. The server engine's
// TurnGate satisfies it directly; a remote client satisfies it with a
// round-trip to the server.
type Gate interface {
	TryAcquire(speaker models.Speaker) error
	Release(speaker models.Speaker)
}

// CaptureDevice is an exclusive microphone handle. Start opens the device
// and begins buffering encoded audio; Stop closes it on every path and
// returns the finalized buffer with its mime type.
type CaptureDevice interface {
	Start(ctx context.Context) error
	Stop() (payload []byte, mimeType string, err error)
}

// Transmitter ships one finalized utterance to the peer via the transport.
type Transmitter interface {
	SendAudio(ctx context.Context, msg models.AudioMessage) error
}

// AudioRelay implements the push-to-talk audio path for one side of a call:
// capture while holding the turn, transmit on release, and play received
// clips strictly one at a time.
type AudioRelay struct {
	callID  string
	speaker models.Speaker

	gate  Gate
	dev   CaptureDevice
	tx    Transmitter
	queue *PlaybackQueue
	log   *logrus.Logger

	mu        sync.Mutex
	capturing bool
}

func NewAudioRelay(callID string, speaker models.Speaker, gate Gate, dev CaptureDevice, tx Transmitter, queue *PlaybackQueue, log *logrus.Logger) *AudioRelay {
	if log == nil {
		log = logrus.New()
	}
	return &AudioRelay{
		callID:  callID,
		speaker: speaker,
		gate:    gate,
		dev:     dev,
		tx:      tx,
		queue:   queue,
		log:     log,
	}
}

// StartCapture acquires the turn and opens the microphone. It fails with
// CHANNEL_BUSY while the peer holds the turn or while their audio is still
// playing locally (the half-duplex courtesy), and with CAPTURE_DEVICE when
// the microphone cannot be opened; neither failure terminates the session.
func (r *AudioRelay) StartCapture(ctx context.Context) error {
	const op = "AudioRelay.StartCapture"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing {
		return nil
	}
	if r.queue != nil && r.queue.Playing() {
		return utils.E(utils.CodeChannelBusy, op, "incoming audio is still playing", nil)
	}

	if err := r.gate.TryAcquire(r.speaker); err != nil {
		return err
	}

	if err := r.dev.Start(ctx); err != nil {
		r.gate.Release(r.speaker)
		return utils.E(utils.CodeCaptureDevice, op, "failed to open capture device", err)
	}

	r.capturing = true
	r.log.WithFields(logrus.Fields{"call_id": r.callID, "speaker": r.speaker}).Debug("capture started")
	return nil
}

// StopCapture finalizes the buffered utterance, transmits it, and releases
// the turn. The device handle and the turn are released on every exit path,
// transmission failure included.
func (r *AudioRelay) StopCapture(ctx context.Context) error {
	const op = "AudioRelay.StopCapture"

	r.mu.Lock()
	if !r.capturing {
		r.mu.Unlock()
		return nil
	}
	r.capturing = false
	r.mu.Unlock()

	// The turn is released whatever happens below; a transmit already in
	// flight is not cancelled by the release.
	defer r.gate.Release(r.speaker)

	payload, mimeType, err := r.dev.Stop()
	if err != nil {
		return utils.E(utils.CodeCaptureDevice, op, "failed to finalize capture", err)
	}
	if len(payload) == 0 {
		return nil
	}

	msg := models.AudioMessage{
		CallID:   r.callID,
		Speaker:  r.speaker,
		MimeType: mimeType,
		Payload:  payload,
	}
	if err := r.tx.SendAudio(ctx, msg); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to transmit audio message", err)
	}

	r.log.WithFields(logrus.Fields{
		"call_id": r.callID,
		"speaker": r.speaker,
		"bytes":   len(payload),
	}).Debug("audio message sent")
	return nil
}

// OnAudioMessage routes a received relay unit into the playback queue.
// Messages for another call and the local speaker's own echo are dropped.
func (r *AudioRelay) OnAudioMessage(msg models.AudioMessage) {
	if msg.CallID != r.callID || msg.Speaker == r.speaker {
		return
	}
	if r.queue == nil {
		return
	}
	if !r.queue.Enqueue(msg.Payload, msg.MimeType) {
		r.log.WithField("call_id", r.callID).Debug("playback queue closed, clip dropped")
	}
}

// Shutdown cancels any pending capture (unflushed chunks are discarded, the
// device is stopped) and closes playback intake. Already-queued clips finish
// playing.
func (r *AudioRelay) Shutdown() {
	r.mu.Lock()
	capturing := r.capturing
	r.capturing = false
	r.mu.Unlock()

	if capturing {
		_, _, _ = r.dev.Stop()
		r.gate.Release(r.speaker)
	}
	if r.queue != nil {
		r.queue.Close()
	}
}
