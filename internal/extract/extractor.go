package extract

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Candidate is an unvalidated field value proposed by an Extractor.
type Candidate struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Extractor turns free text into field candidates. Implementations never validate.
type Extractor interface {
	ExtractCandidates(ctx context.Context, message string, fields []models.FieldDescriptor) ([]Candidate, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, message string, fields []models.FieldDescriptor) ([]Candidate, error)

// ExtractCandidates calls f.
func (f ExtractorFunc) ExtractCandidates(ctx context.Context, message string, fields []models.FieldDescriptor) ([]Candidate, error) {
	return f(ctx, message, fields)
}

var (
	textEmailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}`)
	textPhoneRe = regexp.MustCompile(`\+?\d[\d\s().\-]{5,}\d`)
	textNameRe  = regexp.MustCompile(`(?i)\b(?:my name is|i am|i'm|this is|call me)\s+([a-z][a-z'\-]+(?:\s+[a-z][a-z'\-]+)?)`)
	textTimeRe  = regexp.MustCompile(`(?i)\b(?:(?:later|earlier) than|after|before)\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?|\b(?:1[0-2]|0?[1-9])(?::[0-5]\d)?\s*(?:am|pm)\b|\b(?:[01]?\d|2[0-3]):[0-5]\d\b|\b(?:morning|afternoon|evening|tonight|night)\b`)
	textDateRe  = regexp.MustCompile(`(?i)\b(?:(?:this|next)\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b|\b(?:today|tomorrow)\b|\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b|\bnext week\b|\bweekend\b`)
)

// nameStopWords are words that follow "I'm" without being a name.
var nameStopWords = map[string]bool{
	"interested": true, "looking": true, "not": true, "just": true, "available": true,
	"free": true, "busy": true, "good": true, "fine": true, "here": true, "ok": true,
	"okay": true, "sure": true, "sorry": true, "done": true, "ready": true, "in": true,
	"a": true, "an": true, "the": true, "so": true, "very": true, "also": true,
}

// PatternExtractor is a deterministic Extractor for well-known fields. It is used
// when no language model is configured and as a fallback in tests.
type PatternExtractor struct{}

// ExtractCandidates returns at most one candidate per requested well-known field.
func (PatternExtractor) ExtractCandidates(_ context.Context, message string, fields []models.FieldDescriptor) ([]Candidate, error) {
	var out []Candidate
	for _, fd := range fields {
		var value string
		switch fd.Name {
		case models.FieldEmail:
			value = textEmailRe.FindString(message)
		case models.FieldPhone:
			// emails and dates contain digits too; strip them first
			stripped := textEmailRe.ReplaceAllString(message, " ")
			stripped = textDateRe.ReplaceAllString(stripped, " ")
			value = textPhoneRe.FindString(stripped)
		case models.FieldName, models.FieldFirstName:
			if m := textNameRe.FindStringSubmatch(message); m != nil {
				words := strings.Fields(m[1])
				if nameStopWords[strings.ToLower(words[0])] {
					break
				}
				if len(words) > 1 && nameStopWords[strings.ToLower(words[1])] {
					words = words[:1]
				}
				value = strings.Join(words, " ")
				if fd.Name == models.FieldFirstName {
					value = words[0]
				}
			}
		case models.FieldPreferredTime:
			value = textTimeRe.FindString(message)
		case models.FieldPreferredDate:
			value = textDateRe.FindString(message)
		}
		if value != "" {
			out = append(out, Candidate{Field: fd.Name, Value: strings.TrimSpace(value)})
		}
	}
	return out, nil
}

// FallbackExtractor asks Primary first and uses Fallback when Primary fails.
type FallbackExtractor struct {
	Primary  Extractor
	Fallback Extractor
}

// ExtractCandidates implements Extractor.
func (f FallbackExtractor) ExtractCandidates(ctx context.Context, message string, fields []models.FieldDescriptor) ([]Candidate, error) {
	if f.Primary != nil {
		out, err := f.Primary.ExtractCandidates(ctx, message, fields)
		if err == nil {
			return out, nil
		}
		if f.Fallback == nil {
			return nil, err
		}
		slog.Warn("FallbackExtractor: primary extractor failed, using fallback", "error", err)
	}
	if f.Fallback == nil {
		return nil, nil
	}
	return f.Fallback.ExtractCandidates(ctx, message, fields)
}
