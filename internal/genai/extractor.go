package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/openai/openai-go"
)

const extractionSystemPrompt = `You extract contact and scheduling details from a single customer message.
Return ONLY a JSON object of the form {"candidates":[{"field":"<field name>","value":"<verbatim value>"}]}.
Rules:
- Only use the field names listed by the user prompt.
- Copy values as the customer wrote them; do not normalise, guess or invent.
- Omit fields the message does not mention. Return {"candidates":[]} when nothing applies.
- For preferredTime keep vague phrases such as "evening" or "later than 6" as written.`

// Extractor implements extract.Extractor with a chat model.
type Extractor struct {
	client *Client
}

var _ extract.Extractor = (*Extractor)(nil)

// NewExtractor creates an LLM-backed field extractor.
func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

type extractionResponse struct {
	Candidates []extract.Candidate `json:"candidates"`
}

// ExtractCandidates asks the model for values of fields found in message. Candidates
// for fields that were not requested are dropped; nothing is validated here.
func (e *Extractor) ExtractCandidates(ctx context.Context, message string, fields []models.FieldDescriptor) ([]extract.Candidate, error) {
	if len(fields) == 0 || strings.TrimSpace(message) == "" {
		return nil, nil
	}
	var resp extractionResponse
	err := e.client.completeJSON(ctx, "ExtractCandidates", []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(extractionSystemPrompt),
		openai.UserMessage(buildExtractionPrompt(message, fields)),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}

	wanted := make(map[string]bool, len(fields))
	for _, f := range fields {
		wanted[f.Name] = true
	}
	out := make([]extract.Candidate, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		if wanted[c.Field] && strings.TrimSpace(c.Value) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func buildExtractionPrompt(message string, fields []models.FieldDescriptor) string {
	var b strings.Builder
	b.WriteString("Fields:\n")
	for _, f := range fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		if hint, ok := fieldHints[f.Name]; ok {
			b.WriteString(": ")
			b.WriteString(hint)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nMessage:\n")
	b.WriteString(message)
	return b.String()
}

var fieldHints = map[string]string{
	models.FieldEmail:              "email address",
	models.FieldPhone:              "phone number",
	models.FieldName:               "the customer's own full name",
	models.FieldFirstName:          "the customer's first name",
	models.FieldLastName:           "the customer's last name",
	models.FieldPreferredTime:      "time of day they prefer, e.g. 7pm or evening",
	models.FieldPreferredDate:      "day or date they prefer, e.g. tomorrow or Friday",
	models.FieldNormalizedDateTime: "ISO-8601 datetime, only if the message states one exactly",
}
