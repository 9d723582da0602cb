package triage

import (
	"context"
	"fmt"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"github.com/callscribe/callscribe/internal/models"
)

type VertexGemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	m := c.GenerativeModel(modelName)
	return &VertexGemini{client: c, model: m}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) AnalyzeTranscript(ctx context.Context, transcript []models.TranscriptLine) (models.Analysis, error) {
	reply, err := v.generate(ctx, buildPrompt(transcript))
	if err != nil {
		return models.Analysis{}, fmt.Errorf("triage generation: %w", err)
	}
	return parseAnalysis(reply)
}

// generate streams the model reply and accumulates it into one string.
func (v *VertexGemini) generate(ctx context.Context, prompt string) (string, error) {
	var b strings.Builder

	it := v.model.GenerateContentStream(ctx, vertexgenai.Text(prompt))
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok {
					b.WriteString(string(t))
				}
			}
		}
	}
}
