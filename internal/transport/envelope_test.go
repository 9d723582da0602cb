package transport

import (
	"encoding/json"
	"testing"

	"github.com/callscribe/callscribe/internal/models"
)

func TestAudioEnvelopeRoundTrip(t *testing.T) {
	in := models.AudioMessage{
		CallID:   "call-1",
		Speaker:  models.SpeakerCaller,
		MimeType: "audio/mpeg",
		Payload:  []byte{0x00, 0x01, 0xff, 0xfe},
	}

	e := AudioEnvelope(in)
	if e.Type != EvtAudioMessage {
		t.Errorf("type = %q", e.Type)
	}

	// The frame must survive JSON transit.
	var decoded Envelope
	if err := json.Unmarshal(e.encode(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	out, err := DecodeAudio(decoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CallID != in.CallID || out.Speaker != in.Speaker || out.MimeType != in.MimeType {
		t.Errorf("routing fields lost: %+v", out)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Errorf("payload corrupted: %v", out.Payload)
	}
}

func TestDecodeAudio_BadBase64(t *testing.T) {
	if _, err := DecodeAudio(Envelope{AudioBase64: "!!not base64!!"}); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestEnvelope_OmitsEmptyFields(t *testing.T) {
	e := Envelope{Type: EvtCallStatus, CallID: "call-1", Status: "active"}

	var raw map[string]any
	if err := json.Unmarshal(e.encode(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw) != 3 {
		t.Errorf("frame carries %d fields, want only type/callId/status: %v", len(raw), raw)
	}
}

func TestEnvelope_RawPayloadNeverInlined(t *testing.T) {
	// Audio bytes must only leave as base64; the raw payload field is
	// excluded from JSON entirely.
	b, err := json.Marshal(models.AudioMessage{CallID: "c", Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["Payload"]; ok {
		t.Error("raw payload serialized")
	}
}
