package genai

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/openai/openai-go"
)

const analysisSystemPrompt = `You rate a sales lead's latest message.
Return ONLY a JSON object with these keys:
{"interestLevel": 0-10, "conversionLikelihood": 0-1, "formality": 0-1,
 "emotionalTone": one of excited|positive|curious|neutral|hesitant|skeptical|confused|frustrated|negative,
 "language": ISO 639-1 code, "usesEmojis": true|false}`

// Analyzer produces a MessageAnalysis for each inbound message.
type Analyzer struct {
	client *Client
	now    func() time.Time
}

// NewAnalyzer creates an LLM-backed message analyzer.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client, now: time.Now}
}

// AnalyzeMessage rates message in the context of the recent history.
func (a *Analyzer) AnalyzeMessage(ctx context.Context, messageID, message string, history []models.HistoryMessage) (models.MessageAnalysis, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(analysisSystemPrompt)}
	msgs = append(msgs, historyMessages(history, 6)...)
	msgs = append(msgs, openai.UserMessage(message))

	var out models.MessageAnalysis
	if err := a.client.completeJSON(ctx, "AnalyzeMessage", msgs, &out); err != nil {
		return models.MessageAnalysis{}, fmt.Errorf("analyze message: %w", err)
	}
	out.MessageID = messageID
	out.InterestLevel = clampRange(out.InterestLevel, 0, 10)
	out.ConversionLikelihood = clampRange(out.ConversionLikelihood, 0, 1)
	out.Formality = clampRange(out.Formality, 0, 1)
	out.Timestamp = a.now()
	return out, nil
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// historyMessages converts the last limit history entries into chat messages.
func historyMessages(history []models.HistoryMessage, limit int) []openai.ChatCompletionMessageParamUnion {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, h := range history {
		if h.Role == "assistant" {
			out = append(out, openai.AssistantMessage(h.Content))
		} else {
			out = append(out, openai.UserMessage(h.Content))
		}
	}
	return out
}
