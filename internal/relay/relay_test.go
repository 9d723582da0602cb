package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/utils"
)

type fakeDevice struct {
	mu       sync.Mutex
	started  bool
	stops    int
	payload  []byte
	startErr error
}

func (d *fakeDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started = true
	return nil
}

func (d *fakeDevice) Stop() ([]byte, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.stops++
	return d.payload, MimeWebM, nil
}

func (d *fakeDevice) stopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

type fakeTransmitter struct {
	mu   sync.Mutex
	sent []models.AudioMessage
	err  error
}

func (tx *fakeTransmitter) SendAudio(ctx context.Context, msg models.AudioMessage) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.err != nil {
		return tx.err
	}
	tx.sent = append(tx.sent, msg)
	return nil
}

func (tx *fakeTransmitter) sentCount() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.sent)
}

func newTestRelay(dev *fakeDevice, tx *fakeTransmitter) (*AudioRelay, *session.TurnGate, *scriptedPlayer) {
	gate := session.NewTurnGate()
	player := newScriptedPlayer()
	queue := NewPlaybackQueue(player, nil)
	r := NewAudioRelay("call-1", models.SpeakerOperator, gate, dev, tx, queue, nil)
	return r, gate, player
}

func TestAudioRelay_CaptureWhileMutedFails(t *testing.T) {
	dev := &fakeDevice{payload: []byte("voice")}
	tx := &fakeTransmitter{}
	r, gate, _ := newTestRelay(dev, tx)

	// The caller already holds the turn, so the operator's capture is denied.
	if err := gate.TryAcquire(models.SpeakerCaller); err != nil {
		t.Fatalf("caller acquire: %v", err)
	}

	err := r.StartCapture(context.Background())
	if !utils.IsCode(err, utils.CodeChannelBusy) {
		t.Fatalf("got %v, want CHANNEL_BUSY", err)
	}

	// No message may be transmitted without a successful capture.
	_ = r.StopCapture(context.Background())
	if tx.sentCount() != 0 {
		t.Errorf("transmitted %d messages while muted", tx.sentCount())
	}
}

func TestAudioRelay_CaptureTransmitRoundTrip(t *testing.T) {
	dev := &fakeDevice{payload: []byte("voice")}
	tx := &fakeTransmitter{}
	r, gate, _ := newTestRelay(dev, tx)

	if err := r.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	if gate.Live() != models.SpeakerOperator {
		t.Error("turn not held during capture")
	}

	if err := r.StopCapture(context.Background()); err != nil {
		t.Fatalf("stop capture: %v", err)
	}

	if gate.Live() != models.SpeakerNone {
		t.Error("turn not released after stop")
	}
	if tx.sentCount() != 1 {
		t.Fatalf("sent %d messages, want 1", tx.sentCount())
	}

	tx.mu.Lock()
	msg := tx.sent[0]
	tx.mu.Unlock()
	if msg.CallID != "call-1" || msg.Speaker != models.SpeakerOperator || string(msg.Payload) != "voice" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestAudioRelay_DeviceErrorIsRecoverable(t *testing.T) {
	dev := &fakeDevice{startErr: errors.New("permission denied")}
	tx := &fakeTransmitter{}
	r, gate, _ := newTestRelay(dev, tx)

	err := r.StartCapture(context.Background())
	if !utils.IsCode(err, utils.CodeCaptureDevice) {
		t.Fatalf("got %v, want CAPTURE_DEVICE", err)
	}

	// The gate must be released so the peer can still take the turn.
	if gate.Live() != models.SpeakerNone {
		t.Error("turn leaked after device failure")
	}
	if err := gate.TryAcquire(models.SpeakerCaller); err != nil {
		t.Errorf("peer cannot acquire after device failure: %v", err)
	}
}

func TestAudioRelay_TurnReleasedEvenWhenTransmitFails(t *testing.T) {
	dev := &fakeDevice{payload: []byte("voice")}
	tx := &fakeTransmitter{err: errors.New("socket closed")}
	r, gate, _ := newTestRelay(dev, tx)

	if err := r.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	if err := r.StopCapture(context.Background()); err == nil {
		t.Fatal("expected transmit failure to surface")
	}

	if gate.Live() != models.SpeakerNone {
		t.Error("turn leaked after transmit failure")
	}
	if dev.stopCount() != 1 {
		t.Errorf("device stopped %d times, want 1", dev.stopCount())
	}
}

func TestAudioRelay_EmptyBufferSendsNothing(t *testing.T) {
	dev := &fakeDevice{payload: nil}
	tx := &fakeTransmitter{}
	r, _, _ := newTestRelay(dev, tx)

	if err := r.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	if err := r.StopCapture(context.Background()); err != nil {
		t.Fatalf("stop capture: %v", err)
	}
	if tx.sentCount() != 0 {
		t.Errorf("sent %d messages for empty capture", tx.sentCount())
	}
}

func TestAudioRelay_IgnoresForeignAndEchoMessages(t *testing.T) {
	dev := &fakeDevice{}
	tx := &fakeTransmitter{}
	r, _, player := newTestRelay(dev, tx)

	// Wrong call.
	r.OnAudioMessage(models.AudioMessage{CallID: "other", Speaker: models.SpeakerCaller, Payload: []byte("x")})
	// Own voice echoed back.
	r.OnAudioMessage(models.AudioMessage{CallID: "call-1", Speaker: models.SpeakerOperator, Payload: []byte("y")})
	// Legitimate peer audio.
	r.OnAudioMessage(models.AudioMessage{CallID: "call-1", Speaker: models.SpeakerCaller, Payload: []byte("z")})

	player.waitFor(t, 1)
	got := player.playedList()
	if len(got) != 1 || got[0] != "z" {
		t.Errorf("played %v, want only the peer clip", got)
	}
}

func TestAudioRelay_CourtesyHoldWhilePeerAudioPlays(t *testing.T) {
	dev := &fakeDevice{}
	tx := &fakeTransmitter{}
	r, _, player := newTestRelay(dev, tx)
	player.delay = 100 * time.Millisecond

	r.OnAudioMessage(models.AudioMessage{CallID: "call-1", Speaker: models.SpeakerCaller, Payload: []byte("long clip")})

	err := r.StartCapture(context.Background())
	if !utils.IsCode(err, utils.CodeChannelBusy) {
		t.Fatalf("capture during playback: got %v, want CHANNEL_BUSY", err)
	}

	player.waitFor(t, 1)
	// Give the drain loop a beat to go idle, then capture must succeed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := r.StartCapture(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("capture still blocked after playback finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAudioRelay_ShutdownStopsDeviceAndIntake(t *testing.T) {
	dev := &fakeDevice{payload: []byte("unflushed")}
	tx := &fakeTransmitter{}
	r, gate, _ := newTestRelay(dev, tx)

	if err := r.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}

	r.Shutdown()

	if dev.stopCount() != 1 {
		t.Errorf("device stopped %d times, want 1", dev.stopCount())
	}
	// Unflushed chunks are discarded, not transmitted.
	if tx.sentCount() != 0 {
		t.Errorf("shutdown transmitted %d messages", tx.sentCount())
	}
	if gate.Live() != models.SpeakerNone {
		t.Error("turn leaked after shutdown")
	}

	// No new clips accepted for the stopped session.
	r.OnAudioMessage(models.AudioMessage{CallID: "call-1", Speaker: models.SpeakerCaller, Payload: []byte("late")})
	if tx.sentCount() != 0 {
		t.Error("unexpected transmit")
	}
}
