package stt

import "context"

// Result is one recognition update. Interim results carry the current
// hypothesis for the utterance in progress; a final result supersedes every
// interim that preceded it.
type Result struct {
	Text       string
	Confidence float64
	Final      bool
}

type Provider interface {
	// Transcribe recognizes one complete clip.
	Transcribe(ctx context.Context, audio []byte, language string) (text string, confidence float64, err error)

	// Stream consumes audio chunks and emits recognition results until the
	// audio channel closes or ctx is cancelled. The returned channels are
	// closed when the stream ends.
	Stream(ctx context.Context, audio <-chan []byte, language string) (<-chan Result, <-chan error)

	Close() error
}
