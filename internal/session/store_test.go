package session

import (
	"testing"

	"github.com/callscribe/callscribe/internal/models"
)

func TestStoreAppendOrder(t *testing.T) {
	s := NewTranscriptStore()

	i0 := s.Append(models.TranscriptLine{Speaker: models.SpeakerCaller, Text: "first"})
	i1 := s.Append(models.TranscriptLine{Speaker: models.SpeakerOperator, Text: "second"})
	if i0 != 0 || i1 != 1 {
		t.Fatalf("indices = %d, %d, want 0, 1", i0, i1)
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Text != "first" || snap[1].Text != "second" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewTranscriptStore()
	s.Append(models.TranscriptLine{Text: "original"})

	snap := s.Snapshot()
	snap[0].Text = "mutated"

	if got := s.Snapshot()[0].Text; got != "original" {
		t.Fatalf("stored text = %q, want %q", got, "original")
	}
}

func TestStoreAnnotate(t *testing.T) {
	s := NewTranscriptStore()
	i := s.Append(models.TranscriptLine{Speaker: models.SpeakerCaller, Text: "help"})

	if !s.Annotate(i, "ayuda") {
		t.Fatal("Annotate rejected a valid index")
	}

	line := s.Snapshot()[i]
	if line.Translation != "ayuda" {
		t.Fatalf("translation = %q, want %q", line.Translation, "ayuda")
	}
	if line.Text != "help" || line.Speaker != models.SpeakerCaller {
		t.Fatalf("annotate changed the line: %+v", line)
	}
}

func TestStoreAnnotateOutOfRange(t *testing.T) {
	s := NewTranscriptStore()
	s.Append(models.TranscriptLine{Text: "only"})

	if s.Annotate(-1, "x") || s.Annotate(1, "x") {
		t.Fatal("Annotate accepted an out-of-range index")
	}
}
