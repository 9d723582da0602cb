// Package transport fans session events out to connected dashboards and
// callers over websockets, with Redis pub/sub bridging nodes.
package transport

import (
	"encoding/base64"
	"encoding/json"

	"github.com/callscribe/callscribe/internal/models"
)

// Server-to-client event types.
const (
	EvtIncomingCall      = "incoming-call"
	EvtCallPartial       = "call-partial"
	EvtCallUpdated       = "call-updated"
	EvtCallStatus        = "call-status"
	EvtCallAnalyzed      = "call-analyzed"
	EvtAudioMessage      = "audio-message"
	EvtTurnState         = "turn-state"
	EvtRecordingComplete = "recording-complete"
	EvtError             = "error"
)

// Envelope is the single wire frame for every server-to-client event. Only
// the fields relevant to Type are populated; audio payloads travel base64
// inside the JSON frame.
type Envelope struct {
	Type   string `json:"type"`
	Origin string `json:"origin,omitempty"` // emitting node, for bridge loop suppression
	CallID string `json:"callId,omitempty"`

	From      string         `json:"from,omitempty"`
	Speaker   models.Speaker `json:"speaker,omitempty"`
	Status    string         `json:"status,omitempty"`
	Text      string         `json:"text,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"` // RFC 3339

	Line       *models.TranscriptLine  `json:"line,omitempty"`
	Transcript []models.TranscriptLine `json:"transcript,omitempty"`
	Analysis   *models.Analysis        `json:"analysis,omitempty"`
	Call       *models.Call            `json:"call,omitempty"`

	Live models.Speaker `json:"live,omitempty"` // turn-state holder; empty means free

	MimeType    string `json:"mimeType,omitempty"`
	AudioBase64 string `json:"audioBase64,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e Envelope) encode() []byte {
	b, _ := json.Marshal(e)
	return b
}

// AudioEnvelope wraps one relay clip for the wire.
func AudioEnvelope(msg models.AudioMessage) Envelope {
	return Envelope{
		Type:        EvtAudioMessage,
		CallID:      msg.CallID,
		Speaker:     msg.Speaker,
		MimeType:    msg.MimeType,
		AudioBase64: base64.StdEncoding.EncodeToString(msg.Payload),
	}
}

// DecodeAudio recovers the relay clip from an audio-message frame.
func DecodeAudio(e Envelope) (models.AudioMessage, error) {
	payload, err := base64.StdEncoding.DecodeString(e.AudioBase64)
	if err != nil {
		return models.AudioMessage{}, err
	}
	return models.AudioMessage{
		CallID:   e.CallID,
		Speaker:  e.Speaker,
		MimeType: e.MimeType,
		Payload:  payload,
	}, nil
}

// ClientMsg is the frame clients send on the session socket.
type ClientMsg struct {
	Type   string `json:"type"`
	CallID string `json:"callId,omitempty"`

	From    string         `json:"from,omitempty"`
	Speaker models.Speaker `json:"speaker,omitempty"`
	Text    string         `json:"text,omitempty"`

	MimeType    string `json:"mimeType,omitempty"`
	AudioBase64 string `json:"audioBase64,omitempty"`

	Index  int    `json:"index,omitempty"`  // transcript line position, for translate-line
	Target string `json:"target,omitempty"` // translation target language
}

// Client-to-server message types.
const (
	MsgJoin          = "join"
	MsgStartCall     = "start-call"
	MsgEndCall       = "end-call"
	MsgTurnAcquire   = "turn-acquire"
	MsgTurnRelease   = "turn-release"
	MsgPartial       = "call-partial"
	MsgCommit        = "call-commit"
	MsgCommitNow     = "call-commit-now"
	MsgAudio         = "audio-message"
	MsgAudioChunk    = "audio-chunk"
	MsgTranslateLine = "translate-line"
)
