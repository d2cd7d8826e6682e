package genai

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// fieldQuestions asks for one field in plain words.
var fieldQuestions = map[string]string{
	models.FieldEmail:         "What's the best email to reach you at?",
	models.FieldPhone:         "What's a good phone number for you?",
	models.FieldName:          "May I have your name?",
	models.FieldPreferredDate: "Which day works best for you?",
	models.FieldPreferredTime: "What time of day suits you?",
}

// TemplateReplyGenerator builds replies from the orchestration result without a model.
// It is used when no OpenAI key is configured.
type TemplateReplyGenerator struct{}

// GenerateReply implements the reply generator contract.
func (TemplateReplyGenerator) GenerateReply(_ context.Context, req ReplyRequest) (string, error) {
	r := req.Result
	if r == nil {
		return "Thanks for your message! How can I help?", nil
	}
	var parts []string

	if r.Correction != nil {
		parts = append(parts, fmt.Sprintf("Sorry about that. What's the correct %s?", humanField(r.Correction.Field)))
		return strings.Join(parts, " "), nil
	}
	if len(r.StateUpdates.NewlyCompleted) > 0 {
		parts = append(parts, "Thank you, got it!")
	}
	if len(r.SlotOffers) > 0 {
		labels := make([]string, 0, len(r.SlotOffers))
		for _, s := range r.SlotOffers {
			labels = append(labels, s.Label)
		}
		parts = append(parts, "I can offer "+strings.Join(labels, ", ")+". Which works for you?")
		return strings.Join(parts, " "), nil
	}
	for _, rec := range r.Recommendations {
		if !rec.ShouldPursue || len(rec.MissingFields) == 0 {
			continue
		}
		if q, ok := fieldQuestions[rec.MissingFields[0]]; ok {
			parts = append(parts, q)
		} else {
			parts = append(parts, fmt.Sprintf("Could you share your %s?", humanField(rec.MissingFields[0])))
		}
		break
	}
	if len(parts) == 0 {
		parts = append(parts, "Thanks for your message! How else can I help?")
	}
	return strings.Join(parts, " "), nil
}

// humanField turns a field name such as "firstName" or "zip_code" into words.
func humanField(name string) string {
	switch name {
	case models.FieldPreferredDate:
		return "date"
	case models.FieldPreferredTime:
		return "time"
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_':
			b.WriteRune(' ')
		case unicode.IsUpper(r) && i > 0:
			b.WriteRune(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
