package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Call statuses follow the dispatch lifecycle. A call is "active" while audio
// and transcript flow, "processing" once the session ended and analysis is
// pending, then queued/dispatched/resolved as the dispatch workflow advances.
const (
	CallStatusActive     = "active"
	CallStatusProcessing = "processing"
	CallStatusQueued     = "queued"
	CallStatusDispatched = "dispatched"
	CallStatusResolved   = "resolved"
)

// Speaker identifies one side of the half-duplex channel.
type Speaker string

const (
	SpeakerCaller   Speaker = "caller"
	SpeakerOperator Speaker = "operator"
	SpeakerNone     Speaker = ""
)

// Valid reports whether s is one of the two session participants.
func (s Speaker) Valid() bool {
	return s == SpeakerCaller || s == SpeakerOperator
}

// Other returns the opposite side of the channel.
func (s Speaker) Other() Speaker {
	switch s {
	case SpeakerCaller:
		return SpeakerOperator
	case SpeakerOperator:
		return SpeakerCaller
	default:
		return SpeakerNone
	}
}

// TranscriptLine is one committed, speaker-attributed line. Immutable once
// appended; Translation is an additive, non-authoritative annotation.
type TranscriptLine struct {
	Speaker     Speaker  `bson:"speaker" json:"speaker"`
	Text        string   `bson:"text" json:"text"`
	Timestamp   string   `bson:"timestamp" json:"timestamp"` // elapsed "MM:SS" since session start
	Keywords    []string `bson:"keywords,omitempty" json:"keywords,omitempty"`
	Translation string   `bson:"translation,omitempty" json:"translation,omitempty"`
}

// PartialFrame is the ephemeral, unstable preview for one speaker. It is
// superseded by the next frame or by a commit and is never persisted.
type PartialFrame struct {
	CallID  string  `json:"callId"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// AudioMessage is one relay unit: a single captured utterance. The payload
// travels sender -> transcode -> receiver and is never retained server-side.
type AudioMessage struct {
	CallID   string  `json:"callId"`
	Speaker  Speaker `json:"speaker"`
	MimeType string  `json:"mimeType"`
	Payload  []byte  `json:"-"`
}

// Urgency levels assigned by triage, most to least severe.
const (
	UrgencyCritical = "critical"
	UrgencyUrgent   = "urgent"
	UrgencyStable   = "stable"
)

// Analysis is the AI triage assessment of a call transcript.
type Analysis struct {
	Urgency            string   `bson:"urgency" json:"urgency"` // critical|urgent|stable
	Confidence         int      `bson:"confidence" json:"confidence"`
	Symptoms           []string `bson:"symptoms" json:"symptoms"`
	PatientType        string   `bson:"patientType" json:"patientType"`
	Summary            string   `bson:"summary" json:"summary"`
	Keywords           []string `bson:"keywords" json:"keywords"`
	RecommendedActions []string `bson:"recommendedActions,omitempty" json:"recommendedActions,omitempty"`
}

// Call is the persisted record of one emergency-call session. During an
// active session the in-memory engine is authoritative and this record is a
// downstream replica updated through the CallService.
type Call struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CallID string             `bson:"call_id" json:"callId"`

	From       string `bson:"from,omitempty" json:"from,omitempty"`
	CallerName string `bson:"caller_name,omitempty" json:"callerName,omitempty"`
	Location   string `bson:"location,omitempty" json:"location,omitempty"`

	Status     string           `bson:"status" json:"status"`
	Transcript []TranscriptLine `bson:"transcript" json:"transcript"`
	Analysis   *Analysis        `bson:"analysis,omitempty" json:"analysis,omitempty"`

	DispatchedAmbulance string `bson:"dispatched_ambulance,omitempty" json:"dispatchedAmbulance,omitempty"`
	Notes               string `bson:"notes,omitempty" json:"notes,omitempty"`

	Timestamp       time.Time  `bson:"timestamp" json:"timestamp"` // session start
	UpdatedAt       time.Time  `bson:"updated_at" json:"updatedAt"`
	EndedAt         *time.Time `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	DurationSeconds int64      `bson:"duration_seconds" json:"durationSeconds"`
}

// CallUpdate carries the partial fields a PATCH may change. Nil means
// "leave unchanged".
type CallUpdate struct {
	Status              *string          `json:"status,omitempty"`
	Transcript          []TranscriptLine `json:"transcript,omitempty"`
	Analysis            *Analysis        `json:"analysis,omitempty"`
	DispatchedAmbulance *string          `json:"dispatchedAmbulance,omitempty"`
	Notes               *string          `json:"notes,omitempty"`
	DurationSeconds     *int64           `json:"duration,omitempty"`
}
