package stt

import (
	"context"
	"errors"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_WEBM_OPUS,
		SampleRateHz: 48000,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// language example: "en-US", "fr-CA"
func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	if language == "" {
		language = "en-US"
	}

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.Encoding,
			SampleRateHertz:            g.SampleRateHz,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}

	var bestText string
	var bestConf float64
	for _, r := range resp.Results {
		for _, alt := range r.Alternatives {
			if alt.Transcript != "" && float64(alt.Confidence) >= bestConf {
				bestText = alt.Transcript
				bestConf = float64(alt.Confidence)
			}
		}
	}

	return bestText, bestConf, nil
}

// Stream runs a bidirectional recognition stream with interim results
// enabled. Interim hypotheses arrive as non-final Results; each is_final
// response closes out the utterance it covers.
func (g *GoogleSpeech) Stream(ctx context.Context, audio <-chan []byte, language string) (<-chan Result, <-chan error) {
	if language == "" {
		language = "en-US"
	}

	results := make(chan Result, 32)
	errs := make(chan error, 1)

	fail := func(err error) (<-chan Result, <-chan error) {
		errs <- err
		close(results)
		close(errs)
		return results, errs
	}

	st, err := g.c.StreamingRecognize(ctx)
	if err != nil {
		return fail(err)
	}

	cfg := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   g.Encoding,
					SampleRateHertz:            g.SampleRateHz,
					LanguageCode:               language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}
	if err := st.Send(cfg); err != nil {
		return fail(err)
	}

	go func() {
		defer st.CloseSend()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-audio:
				if !ok {
					return
				}
				req := &speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: chunk,
					},
				}
				if err := st.Send(req); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer close(results)
		defer close(errs)
		for {
			resp, err := st.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					errs <- err
				}
				return
			}
			for _, r := range resp.Results {
				if len(r.Alternatives) == 0 {
					continue
				}
				alt := r.Alternatives[0]
				if alt.Transcript == "" {
					continue
				}
				results <- Result{
					Text:       alt.Transcript,
					Confidence: float64(alt.Confidence),
					Final:      r.IsFinal,
				}
			}
		}
	}()

	return results, errs
}
