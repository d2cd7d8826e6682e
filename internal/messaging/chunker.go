package messaging

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Chunk is one piece of a reply, sent after DelayMs of simulated typing.
type Chunk struct {
	Text                string `json:"text"`
	Index               int    `json:"index"`
	Total               int    `json:"total"`
	DelayMs             int    `json:"delayMs"`
	ResponseToMessageID string `json:"responseToMessageId,omitempty"`
	ResponseID          string `json:"responseId"`
}

// ChunkRule describes how replies are split and paced on one channel.
type ChunkRule struct {
	// MaxChars is the longest chunk. Zero sends the reply as one chunk.
	MaxChars int
	// Sentences groups whole sentences into chunks instead of filling by words.
	Sentences bool
	BaseDelay time.Duration
	PerChar   time.Duration
	MaxDelay  time.Duration
}

// Rules per channel type.
var (
	SMSRule   = ChunkRule{MaxChars: 320, BaseDelay: 1 * time.Second, PerChar: 10 * time.Millisecond, MaxDelay: 3 * time.Second}
	ChatRule  = ChunkRule{MaxChars: 300, Sentences: true, BaseDelay: 600 * time.Millisecond, PerChar: 30 * time.Millisecond, MaxDelay: 4 * time.Second}
	EmailRule = ChunkRule{}
)

// RuleFor returns the chunk rule of a channel type. Unknown channels use ChatRule.
func RuleFor(channel models.ChannelType) ChunkRule {
	switch channel {
	case models.ChannelSMS:
		return SMSRule
	case models.ChannelEmail:
		return EmailRule
	default:
		return ChatRule
	}
}

// Delay returns the typing delay for a chunk of text.
func (r ChunkRule) Delay(text string) time.Duration {
	d := r.BaseDelay + time.Duration(utf8.RuneCountInString(text))*r.PerChar
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

var sentenceEndRe = regexp.MustCompile(`[.!?…]+["')\]]*\s+|\n+`)

// Split splits text into chunks according to rule. An empty text yields no chunks.
func Split(text string, rule ChunkRule, responseID, replyTo string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	switch {
	case rule.MaxChars <= 0 || utf8.RuneCountInString(text) <= rule.MaxChars:
		parts = []string{text}
	case rule.Sentences:
		parts = groupSentences(splitSentences(text), rule.MaxChars)
	default:
		parts = fillWords(strings.Fields(text), rule.MaxChars)
	}

	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{
			Text:                p,
			Index:               i,
			Total:               len(parts),
			DelayMs:             int(rule.Delay(p) / time.Millisecond),
			ResponseToMessageID: replyTo,
			ResponseID:          responseID,
		}
	}
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// groupSentences packs consecutive sentences into chunks of at most limit runes.
// A sentence longer than limit is split by words.
func groupSentences(sentences []string, limit int) []string {
	var out []string
	cur := ""
	for _, s := range sentences {
		if utf8.RuneCountInString(s) > limit {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			out = append(out, fillWords(strings.Fields(s), limit)...)
			continue
		}
		switch {
		case cur == "":
			cur = s
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(s) <= limit:
			cur += " " + s
		default:
			out = append(out, cur)
			cur = s
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// fillWords packs words into chunks of at most limit runes, hard-splitting words
// that are longer than limit.
func fillWords(words []string, limit int) []string {
	var out []string
	cur := ""
	for _, w := range words {
		for utf8.RuneCountInString(w) > limit {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			r := []rune(w)
			out = append(out, string(r[:limit]))
			w = string(r[limit:])
		}
		switch {
		case w == "":
		case cur == "":
			cur = w
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(w) <= limit:
			cur += " " + w
		default:
			out = append(out, cur)
			cur = w
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
