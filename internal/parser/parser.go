// Package parser extracts structured hints from transcript text with plain
// pattern matching. It runs locally and instantly, so dispatchers get a
// first-pass assessment long before the AI triage result lands.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/callscribe/callscribe/internal/models"
)

var criticalKeywords = []string{
	"not breathing", "unconscious", "no pulse", "severe bleeding", "choking",
	"overdose", "suicide", "gunshot", "stabbing", "cardiac arrest", "stroke",
	"anaphylaxis", "severe allergic", "not responsive", "not moving",
	"not waking", "stopped breathing", "can't breathe",
	"drowning", "electrocution",
}

var urgentKeywords = []string{
	"chest pain", "heart attack", "difficulty breathing", "bleeding", "broken",
	"fracture", "head injury", "concussion", "severe pain", "overdose",
	"diabetic", "seizure", "asthma attack", "allergic reaction", "burn",
	"fell", "accident", "collision", "stabbed", "shot",
}

var symptomPhrases = []string{
	"chest pain", "difficulty breathing", "can't breathe", "not breathing",
	"bleeding", "unconscious", "severe pain", "head injury", "neck pain",
	"broken arm", "broken leg", "wrist pain", "swelling", "dizzy", "dizziness",
	"sweating", "numb", "numbness", "vomiting", "seizure", "fell", "fall",
	"heart attack", "stroke", "allergic", "choking", "burn", "cut",
}

var (
	addressRe    = regexp.MustCompile(`(?i)\d+\s+[\w\s]+?(?:street|st|avenue|ave|road|rd|drive|dr|blvd|lane|ln|way|park|place|pl)\b`)
	landmarkRe   = regexp.MustCompile(`(?i)(?:at|in)\s+([^,.!?]*(?:park|hospital|school|mall|center|store)[^,.!?]*)`)
	genericLocRe = regexp.MustCompile(`(?i)(?:address is|address|location|we're at)\s*[:.]?\s*([^,.!?]+)`)
	ageRe        = regexp.MustCompile(`(?i)(\d+)\s*(?:year|yr)s?\s*old`)
	agePronounRe = regexp.MustCompile(`(?i)(?:age|he's|she's)\s*(?:is\s*)?(\d+)`)
	childAgeRe   = regexp.MustCompile(`(?i)(\d+)\s*(?:year|month|day)s?\s*old`)
	maleRe       = regexp.MustCompile(`(?i)\b(he|him|male|boy|husband|father|son)\b`)
	femaleRe     = regexp.MustCompile(`(?i)\b(she|her|female|girl|wife|mother|daughter)\b`)
)

// Parsed is the structured first-pass reading of a transcript.
type Parsed struct {
	Location    string   `json:"location"`
	Age         string   `json:"age"`
	PatientType string   `json:"patientType"`
	Symptoms    []string `json:"symptoms"`
	Urgency     string   `json:"urgency"`
	Confidence  int      `json:"confidence"`
	Summary     string   `json:"summary"`
}

// Parse scans the whole transcript. It never fails; absent fields stay
// empty.
func Parse(transcript []models.TranscriptLine) Parsed {
	var texts, callerTexts []string
	for _, line := range transcript {
		texts = append(texts, line.Text)
		if line.Speaker == models.SpeakerCaller {
			callerTexts = append(callerTexts, line.Text)
		}
	}
	fullText := strings.ToLower(strings.Join(texts, " "))

	p := Parsed{Urgency: models.UrgencyStable, Confidence: 70}

	p.Location = extractLocation(fullText)
	p.Age, p.PatientType = extractPatient(fullText)
	p.Symptoms = extractSymptoms(fullText)
	p.Urgency, p.Confidence = classifyUrgency(fullText)
	p.Summary = summarize(callerTexts)

	return p
}

// Keywords returns the urgency keywords present in a single line, used to
// tag committed lines as they stream in.
func Keywords(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, k := range criticalKeywords {
		if strings.Contains(lower, k) {
			found = append(found, k)
		}
	}
	for _, k := range urgentKeywords {
		if strings.Contains(lower, k) && !contains(found, k) {
			found = append(found, k)
		}
	}
	return found
}

func extractLocation(fullText string) string {
	if m := addressRe.FindString(fullText); m != "" {
		return strings.TrimSpace(m)
	}
	if m := landmarkRe.FindStringSubmatch(fullText); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := genericLocRe.FindStringSubmatch(fullText); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func extractPatient(fullText string) (age, patientType string) {
	m := ageRe.FindStringSubmatch(fullText)
	if m == nil {
		m = agePronounRe.FindStringSubmatch(fullText)
	}
	if m != nil {
		age = m[1]
		patientType = label("Adult", age, gender(fullText))
	}

	// A stated age under 18 reclassifies the patient as a child.
	if cm := childAgeRe.FindStringSubmatch(fullText); cm != nil {
		if n, err := strconv.Atoi(cm[1]); err == nil && n < 18 {
			age = cm[1]
			patientType = label("Child", age, gender(fullText))
		}
	}
	return age, patientType
}

func gender(fullText string) string {
	switch {
	case maleRe.MatchString(fullText):
		return "M"
	case femaleRe.MatchString(fullText):
		return "F"
	default:
		return ""
	}
}

func label(kind, age, gender string) string {
	return kind + " (" + age + gender + ")"
}

func extractSymptoms(fullText string) []string {
	var found []string
	for _, phrase := range symptomPhrases {
		if strings.Contains(fullText, phrase) {
			found = append(found, phrase)
		}
	}
	return found
}

func classifyUrgency(fullText string) (string, int) {
	for _, k := range criticalKeywords {
		if strings.Contains(fullText, k) {
			return models.UrgencyCritical, 92
		}
	}
	for _, k := range urgentKeywords {
		if strings.Contains(fullText, k) {
			return models.UrgencyUrgent, 85
		}
	}
	return models.UrgencyStable, 75
}

func summarize(callerTexts []string) string {
	joined := strings.Join(callerTexts, " ")
	if len(joined) > 200 {
		return joined[:200] + "..."
	}
	return joined
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
