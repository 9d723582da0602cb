// Package triage turns a finished call transcript into a structured
// dispatch assessment using a generative model.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/callscribe/callscribe/internal/models"
)

type Provider interface {
	AnalyzeTranscript(ctx context.Context, transcript []models.TranscriptLine) (models.Analysis, error)
	Close() error
}

const promptTemplate = `You are an AI emergency medical dispatcher assistant. Analyze this emergency call transcript and provide a structured assessment.

Transcript:
%s

Provide your analysis in the following JSON format:
{
  "urgency": "critical" | "urgent" | "stable",
  "confidence": <number 0-100>,
  "symptoms": [<array of detected symptoms>],
  "patientType": "<age and gender if mentioned, e.g., 'Adult (58M)' or 'Unknown'>",
  "summary": "<brief 1-2 sentence summary of the emergency>",
  "keywords": [<critical words/phrases that indicate urgency>],
  "recommendedActions": [<array of immediate actions for dispatcher>]
}

Be concise and focus on life-threatening indicators. Only respond with valid JSON.`

// buildPrompt renders the transcript as "[speaker] text" lines.
func buildPrompt(transcript []models.TranscriptLine) string {
	var b strings.Builder
	for _, line := range transcript {
		fmt.Fprintf(&b, "[%s] %s\n", line.Speaker, line.Text)
	}
	return fmt.Sprintf(promptTemplate, b.String())
}

// extractJSON pulls the first top-level JSON object out of a model reply,
// tolerating markdown fences and prose around it.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func parseAnalysis(reply string) (models.Analysis, error) {
	raw, ok := extractJSON(reply)
	if !ok {
		return models.Analysis{}, fmt.Errorf("no JSON object in model reply")
	}

	var a models.Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return models.Analysis{}, fmt.Errorf("malformed analysis JSON: %w", err)
	}

	switch a.Urgency {
	case models.UrgencyCritical, models.UrgencyUrgent, models.UrgencyStable:
	default:
		a.Urgency = models.UrgencyUrgent
	}
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 100 {
		a.Confidence = 100
	}
	return a, nil
}
