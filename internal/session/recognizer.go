package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/providers/stt"
)

// Recognizer pumps one speaker's live audio through a streaming speech
// provider and folds the hypotheses back into the aggregator: interim
// results become partial previews, is_final results become committed
// lines.
type Recognizer struct {
	speaker models.Speaker
	agg     *TranscriptAggregator
	log     *logrus.Logger

	mu     sync.Mutex
	closed bool
	audio  chan []byte
	done   chan struct{}
}

// StartRecognizer opens the provider stream and begins consuming results.
// The stream stays up for the speaker's whole session; Close ends it.
func StartRecognizer(ctx context.Context, provider stt.Provider, agg *TranscriptAggregator, speaker models.Speaker, language string, log *logrus.Logger) *Recognizer {
	if log == nil {
		log = logrus.New()
	}
	r := &Recognizer{
		speaker: speaker,
		agg:     agg,
		log:     log,
		audio:   make(chan []byte, 32),
		done:    make(chan struct{}),
	}

	results, errs := provider.Stream(ctx, r.audio, language)
	go r.consume(results, errs)
	return r
}

// Feed hands a captured audio chunk to the stream. It never blocks: a full
// pipe or a closed recognizer drops the chunk and reports false.
func (r *Recognizer) Feed(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.audio <- chunk:
		return true
	default:
		r.log.WithField("speaker", r.speaker).Warn("recognizer pipe full, dropping audio chunk")
		return false
	}
}

// Close stops feeding audio. Results already in flight still drain into the
// aggregator before Done is signalled.
func (r *Recognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.audio)
}

// Done is closed once the provider's result stream has drained.
func (r *Recognizer) Done() <-chan struct{} { return r.done }

func (r *Recognizer) consume(results <-chan stt.Result, errs <-chan error) {
	defer close(r.done)
	for results != nil || errs != nil {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if res.Final {
				r.agg.CommitAuto(r.speaker, res.Text)
			} else {
				r.agg.OnPartial(r.speaker, res.Text)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				r.log.WithError(err).WithField("speaker", r.speaker).Warn("recognition stream failed")
			}
		}
	}
}
